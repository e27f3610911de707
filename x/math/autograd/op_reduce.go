package autograd

import (
	"sort"

	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

type sumOp struct {
	inShape  types.Shape
	axes     []int
	keepDims bool
}

func (o *sumOp) Name() string { return "Sum" }
func (o *sumOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.inShape = in[0].Shape()
	return tensor.Sum(in[0], o.axes, o.keepDims)
}
func (o *sumOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g := gradOut
	if !o.keepDims {
		expanded, err := reexpand(g, o.inShape, o.axes)
		if err != nil {
			return nil, err
		}
		g = expanded
	}
	out, err := tensor.BroadcastTo(g, o.inShape)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{out}, nil
}

// Sum reduces v over axes (nil means every axis). The gradient of a sum
// is simply the incoming gradient broadcast back to the input's shape.
func Sum(v *Variable, axes []int, keepDims bool) (*Variable, error) {
	return apply(&sumOp{axes: axes, keepDims: keepDims}, v)
}

type meanOp struct {
	inShape  types.Shape
	axes     []int
	keepDims bool
	count    int
}

func (o *meanOp) Name() string { return "Mean" }
func (o *meanOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.inShape = in[0].Shape()
	resolved, err := resolveReduceAxes(o.inShape, o.axes)
	if err != nil {
		return tensor.Array{}, err
	}
	o.count = 1
	for _, ax := range resolved {
		o.count *= o.inShape[ax]
	}
	return tensor.Mean(in[0], o.axes, o.keepDims)
}
func (o *meanOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g := gradOut
	if !o.keepDims {
		expanded, err := reexpand(g, o.inShape, o.axes)
		if err != nil {
			return nil, err
		}
		g = expanded
	}
	full, err := tensor.BroadcastTo(g, o.inShape)
	if err != nil {
		return nil, err
	}
	tensor.ScaleInPlace(full, 1/float32(o.count))
	return []tensor.Array{full}, nil
}

// Mean reduces v over axes (nil means every axis) by averaging.
func Mean(v *Variable, axes []int, keepDims bool) (*Variable, error) {
	return apply(&meanOp{axes: axes, keepDims: keepDims}, v)
}

// extremumOp implements both Max and Min: the gradient of an extremum
// reduction routes entirely to the argmax/argmin element; among tied
// elements, the one with the lowest row-major index receives all of it.
type extremumOp struct {
	inShape  types.Shape
	axes     []int
	keepDims bool
	input    tensor.Array
	output   tensor.Array // always keepDims=true, for broadcasting comparisons
	useMax   bool
}

func (o *extremumOp) Name() string {
	if o.useMax {
		return "Max"
	}
	return "Min"
}
func (o *extremumOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.input = in[0]
	o.inShape = in[0].Shape()
	var err error
	if o.useMax {
		o.output, err = tensor.Max(in[0], o.axes, true)
	} else {
		o.output, err = tensor.Min(in[0], o.axes, true)
	}
	if err != nil {
		return tensor.Array{}, err
	}
	if o.keepDims {
		return o.output, nil
	}
	resolved, err := resolveReduceAxes(o.inShape, o.axes)
	if err != nil {
		return tensor.Array{}, err
	}
	sort.Ints(resolved)
	squeezed := o.output
	for _, ax := range resolved {
		a := ax
		squeezed, err = tensor.Squeeze(squeezed, &a)
		if err != nil {
			return tensor.Array{}, err
		}
		for j := range resolved {
			if resolved[j] > ax {
				resolved[j]--
			}
		}
	}
	return squeezed, nil
}
func (o *extremumOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g := gradOut
	if !o.keepDims {
		expanded, err := reexpand(g, o.inShape, o.axes)
		if err != nil {
			return nil, err
		}
		g = expanded
	}
	broadOut, err := tensor.BroadcastTo(o.output, o.inShape)
	if err != nil {
		return nil, err
	}
	mask, err := firstExtremumMask(o.input, broadOut, o.output.Shape())
	if err != nil {
		return nil, err
	}
	gFull, err := tensor.BroadcastTo(g, o.inShape)
	if err != nil {
		return nil, err
	}
	grad, err := tensor.Mul(mask, gFull)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{grad}, nil
}

// firstExtremumMask marks, for each reduced group, only the first
// (lowest row-major index) element equal to that group's extremum: a tied
// extremum routes its whole gradient to the lowest index rather than
// splitting it.
func firstExtremumMask(input, extremum tensor.Array, reducedShape types.Shape) (tensor.Array, error) {
	mask := tensor.Zeros(input.Shape())
	claimed := make(map[int]bool, reducedShape.Size())
	in := input.Data()
	ext := extremum.Data()
	md := mask.Data()
	for i, idx := range allIndices(input.Shape()) {
		group := 0
		stride := 1
		for d := len(reducedShape) - 1; d >= 0; d-- {
			di := idx[d]
			if reducedShape[d] == 1 {
				di = 0
			}
			group += di * stride
			stride *= reducedShape[d]
		}
		if in[i] == ext[i] && !claimed[group] {
			claimed[group] = true
			md[i] = 1
		}
	}
	return mask, nil
}

// Max reduces v over axes by element-wise maximum.
func Max(v *Variable, axes []int, keepDims bool) (*Variable, error) {
	return apply(&extremumOp{axes: axes, keepDims: keepDims, useMax: true}, v)
}

// Min reduces v over axes by element-wise minimum.
func Min(v *Variable, axes []int, keepDims bool) (*Variable, error) {
	return apply(&extremumOp{axes: axes, keepDims: keepDims, useMax: false}, v)
}

// resolveReduceAxes mirrors tensor.normalizeAxes (unexported there) so
// backward rules can recompute which concrete axes a nil/negative axis
// list resolved to.
func resolveReduceAxes(shape types.Shape, axes []int) ([]int, error) {
	if axes == nil {
		out := make([]int, shape.Rank())
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, len(axes))
	for i, ax := range axes {
		a, err := shape.Axis(ax)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// reexpand reinserts size-1 dims at the reduced axes so the result can be
// broadcast back to inShape.
func reexpand(g tensor.Array, inShape types.Shape, axes []int) (tensor.Array, error) {
	resolved, err := resolveReduceAxes(inShape, axes)
	if err != nil {
		return tensor.Array{}, err
	}
	sort.Ints(resolved)
	out := g
	for _, ax := range resolved {
		out, err = tensor.Unsqueeze(out, ax)
		if err != nil {
			return tensor.Array{}, err
		}
	}
	return out, nil
}
