// Package losses implements the three training-strategy loss surfaces:
// causal-LM cross-entropy, DPO preference loss against a frozen reference
// policy, and GRPO's group-relative clipped surrogate. Grounded on
// x/math/nn/losses.go's free-function shape (MSE, CrossEntropy,
// validateShapes) — generalized so each loss consumes/produces
// autograd.Variables instead of raw tensors plus a hand-written gradient,
// since these gradients flow through the shared autograd engine rather
// than a bespoke per-loss Gradient method.
package losses

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// sequenceLogProb computes ℓ_π(y|x) = Σ_t log_softmax(logits_t)[y_t] for
// every sequence in the batch, restricted to positions where mask is
// non-zero (mask nil means every position counts). logits is (B, T, V);
// targets is a (B, T) grid of token ids. The result is a differentiable
// (B,) Variable: the gather is expressed as a flat IndexSelect so the
// whole computation stays inside the existing autograd op set rather than
// a hand-differentiated gather.
func sequenceLogProb(logits *autograd.Variable, targets [][]int, mask [][]float32) (*autograd.Variable, error) {
	shape := logits.Shape()
	if shape.Rank() != 3 {
		return nil, fmt.Errorf("losses.sequenceLogProb: %w: logits must be rank 3 (B,T,V), got %v",
			types.ErrShapeMismatch, shape)
	}
	b, t, v := shape[0], shape[1], shape[2]
	if err := validateTokenGrid(targets, b, t); err != nil {
		return nil, fmt.Errorf("losses.sequenceLogProb: %w", err)
	}
	if mask != nil {
		if err := validateMaskGrid(mask, b, t); err != nil {
			return nil, fmt.Errorf("losses.sequenceLogProb: %w", err)
		}
	}

	logProbs, err := autograd.LogSoftmax(logits, -1)
	if err != nil {
		return nil, err
	}
	flat, err := autograd.Reshape(logProbs, types.NewShape(b*t*v))
	if err != nil {
		return nil, err
	}

	flatIdx := make([]int, b*t)
	maskFlat := make([]float32, b*t)
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			pos := bi*t + ti
			tok := targets[bi][ti]
			if tok < 0 || tok >= v {
				return nil, fmt.Errorf("losses.sequenceLogProb: %w: target id %d out of range for vocab %d",
					types.ErrInvalidArgument, tok, v)
			}
			flatIdx[pos] = pos*v + tok
			m := float32(1)
			if mask != nil {
				m = mask[bi][ti]
			}
			maskFlat[pos] = m
		}
	}

	gathered, err := autograd.IndexSelect(flat, 0, flatIdx)
	if err != nil {
		return nil, err
	}
	gathered, err = autograd.Reshape(gathered, types.NewShape(b, t))
	if err != nil {
		return nil, err
	}
	maskVar := autograd.New(tensor.MustFromFlat(maskFlat, types.NewShape(b, t)), false)
	masked, err := autograd.Mul(gathered, maskVar)
	if err != nil {
		return nil, err
	}
	return autograd.Sum(masked, []int{1}, false)
}

func validateTokenGrid(grid [][]int, b, t int) error {
	if len(grid) != b {
		return fmt.Errorf("%w: expected %d rows of targets, got %d", types.ErrShapeMismatch, b, len(grid))
	}
	for i, row := range grid {
		if len(row) != t {
			return fmt.Errorf("%w: ragged target grid at row %d (want %d, got %d)", types.ErrShapeMismatch, i, t, len(row))
		}
	}
	return nil
}

func validateMaskGrid(grid [][]float32, b, t int) error {
	if len(grid) != b {
		return fmt.Errorf("%w: expected %d rows of mask, got %d", types.ErrShapeMismatch, b, len(grid))
	}
	for i, row := range grid {
		if len(row) != t {
			return fmt.Errorf("%w: ragged mask grid at row %d (want %d, got %d)", types.ErrShapeMismatch, i, t, len(row))
		}
	}
	return nil
}

// logSigmoid returns log(sigmoid(x)) = -softplus(-x), composed from
// existing autograd primitives. Like moe's noise softplus, this is the
// numerically simple (not branch-stabilized) form — an accepted
// simplification for this educational framework rather than a
// production-grade log1p-based implementation.
func logSigmoid(x *autograd.Variable) (*autograd.Variable, error) {
	negX, err := autograd.Neg(x)
	if err != nil {
		return nil, err
	}
	sp, err := softplus(negX)
	if err != nil {
		return nil, err
	}
	return autograd.Neg(sp)
}

func softplus(x *autograd.Variable) (*autograd.Variable, error) {
	expX, err := autograd.Exp(x)
	if err != nil {
		return nil, err
	}
	onePlus, err := autograd.AddScalar(expX, 1)
	if err != nil {
		return nil, err
	}
	return autograd.Log(onePlus)
}
