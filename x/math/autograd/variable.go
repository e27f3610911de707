// Package autograd implements reverse-mode automatic differentiation over
// x/math/tensor Arrays: Variable wraps a value with an optional gradient
// and a creator edge back to the operation that produced it, and Backward
// walks that graph in generation order to accumulate gradients at every
// leaf.
package autograd

import (
	"container/heap"
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Variable is a node in the computation graph: a value, an optional
// gradient (nil until Backward or SetGrad populates it), and a creator
// edge to the Function that produced it (nil for leaves — parameters and
// inputs created directly by the caller).
type Variable struct {
	Value        tensor.Array
	Grad         *tensor.Array
	Name         string
	creator      *creatorEdge
	generation   int
	requiresGrad bool
}

// creatorEdge records the Function that produced a Variable and the
// inputs it was produced from, so Backward can walk the graph without
// every operator package depending on autograd internals beyond this
// edge.
type creatorEdge struct {
	fn     Function
	inputs []*Variable
}

// Function is implemented by every differentiable operator. Forward
// receives the already-unwrapped input values (Variable.Value) and
// returns the raw output value; Backward receives the gradient with
// respect to that output and returns the gradient with respect to each
// input, in the same order Forward received them.
type Function interface {
	Forward(inputs ...tensor.Array) (tensor.Array, error)
	Backward(gradOutput tensor.Array) ([]tensor.Array, error)
	Name() string
}

// New wraps a value as a leaf Variable (no creator). requiresGrad controls
// whether Backward will bother accumulating a gradient here; parameters
// set it true, fixed inputs (token ids turned into one-hot, attention
// masks, …) typically leave it false.
func New(value tensor.Array, requiresGrad bool) *Variable {
	return &Variable{Value: value, requiresGrad: requiresGrad}
}

// NamedNew is New with a Name attached, for error messages and debugging
// dumps of the parameter tree.
func NamedNew(name string, value tensor.Array, requiresGrad bool) *Variable {
	v := New(value, requiresGrad)
	v.Name = name
	return v
}

// RequiresGrad reports whether this Variable accumulates gradients.
func (v *Variable) RequiresGrad() bool { return v.requiresGrad }

// SetRequiresGrad toggles gradient tracking for this Variable in place.
func (v *Variable) SetRequiresGrad(b bool) { v.requiresGrad = b }

// Shape returns the shape of the wrapped value.
func (v *Variable) Shape() types.Shape { return v.Value.Shape() }

// ClearGrad drops the accumulated gradient, ready for the next step.
func (v *Variable) ClearGrad() { v.Grad = nil }

// SetGrad overwrites the accumulated gradient directly; used to seed a
// non-scalar Backward call, or to inject externally computed gradients
// (e.g. a frozen reference model never calls Backward at all).
func (v *Variable) SetGrad(g tensor.Array) { v.Grad = &g }

// Unchain detaches this Variable from its creator, turning it into a leaf.
// GRPO's behavior-policy rollout and DPO's reference-policy forward pass
// both need values that participate in loss arithmetic without ever
// propagating gradients upstream of this point.
func (v *Variable) Unchain() {
	v.creator = nil
	v.generation = 0
}

// apply runs fn over inputs, producing a new Variable whose creator
// records fn and the inputs, with generation = 1 + max(input generations).
// If none of the inputs require gradients the result is a plain
// (creator-less) Variable, since there is nothing to ever backpropagate
// into.
func apply(fn Function, inputs ...*Variable) (*Variable, error) {
	values := make([]tensor.Array, len(inputs))
	anyRequires := false
	maxGen := 0
	for i, in := range inputs {
		values[i] = in.Value
		if in.requiresGrad || in.creator != nil {
			anyRequires = true
		}
		if in.generation > maxGen {
			maxGen = in.generation
		}
	}
	out, err := fn.Forward(values...)
	if err != nil {
		return nil, fmt.Errorf("autograd.%s: %w", fn.Name(), err)
	}
	result := &Variable{Value: out, requiresGrad: anyRequires}
	if anyRequires {
		result.creator = &creatorEdge{fn: fn, inputs: inputs}
		result.generation = maxGen + 1
	}
	return result, nil
}

// Backward runs reverse-mode differentiation starting from v, accumulating
// into Grad on every Variable reachable through creator edges. For a
// non-scalar v, seed must be supplied (typically tensor.Ones(v.Shape()) for
// a sum-reduction convention) via the variadic parameter; omitting it is
// only valid when v is a scalar, in which case the seed defaults to 1.
func (v *Variable) Backward(seed ...tensor.Array) error {
	var grad tensor.Array
	switch {
	case len(seed) == 1:
		grad = seed[0]
	case len(seed) == 0 && v.Value.IsScalar():
		grad = tensor.Ones(v.Value.Shape())
	default:
		return fmt.Errorf("%w: autograd.Backward: a seed gradient is required for non-scalar output of shape %v",
			types.ErrUninitializedGrad, v.Value.Shape())
	}

	pq := &genQueue{}
	heap.Init(pq)
	grads := map[*Variable]tensor.Array{v: grad}
	seen := map[*Variable]bool{v: true}
	heap.Push(pq, v)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*Variable)
		curGrad := grads[cur]
		if cur.requiresGrad {
			cur.accumulate(curGrad)
		}
		if cur.creator == nil {
			continue
		}
		inGrads, err := cur.creator.fn.Backward(curGrad)
		if err != nil {
			return fmt.Errorf("autograd.Backward: %s: %w", cur.creator.fn.Name(), err)
		}
		if len(inGrads) != len(cur.creator.inputs) {
			return fmt.Errorf("autograd.Backward: %s: returned %d gradients for %d inputs",
				cur.creator.fn.Name(), len(inGrads), len(cur.creator.inputs))
		}
		for i, in := range cur.creator.inputs {
			if !in.requiresGrad && in.creator == nil {
				continue
			}
			if existing, ok := grads[in]; ok {
				merged, err := tensor.Add(existing, inGrads[i])
				if err != nil {
					return fmt.Errorf("autograd.Backward: accumulating gradient for %q: %w", in.Name, err)
				}
				grads[in] = merged
			} else {
				grads[in] = inGrads[i]
			}
			if !seen[in] {
				seen[in] = true
				heap.Push(pq, in)
			}
		}
	}
	return nil
}

func (v *Variable) accumulate(g tensor.Array) {
	if v.Grad == nil {
		clone := g.Clone()
		v.Grad = &clone
		return
	}
	_ = tensor.AddInPlace(*v.Grad, g)
}

// genQueue is a max-heap over Variable.generation: Backward must visit a
// node only after every consumer that feeds it has already contributed
// its share of the gradient, which the descending-generation order
// guarantees.
type genQueue []*Variable

func (q genQueue) Len() int            { return len(q) }
func (q genQueue) Less(i, j int) bool  { return q[i].generation > q[j].generation }
func (q genQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *genQueue) Push(x interface{}) { *q = append(*q, x.(*Variable)) }
func (q *genQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
