package losses

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// CausalLM computes the mean cross-entropy of logits (B, T, V) against
// integer targets (B, T), restricted to positions where mask is non-zero
// (mask nil means every position contributes). The averaging denominator
// is the number of unmasked positions, not B*T, so a heavily padded batch
// doesn't get an artificially small loss.
func CausalLM(logits *autograd.Variable, targets [][]int, mask [][]float32) (*autograd.Variable, error) {
	perSequence, err := sequenceLogProb(logits, targets, mask)
	if err != nil {
		return nil, fmt.Errorf("losses.CausalLM: %w", err)
	}
	denom := countUnmasked(targets, mask)
	if denom == 0 {
		return nil, fmt.Errorf("losses.CausalLM: %w: every position is masked out", types.ErrInvalidArgument)
	}
	negSum, err := autograd.Sum(perSequence, []int{0}, false)
	if err != nil {
		return nil, err
	}
	negSum, err = autograd.Neg(negSum)
	if err != nil {
		return nil, err
	}
	return autograd.Scale(negSum, 1/denom)
}

func countUnmasked(targets [][]int, mask [][]float32) float32 {
	if mask == nil {
		count := 0
		for _, row := range targets {
			count += len(row)
		}
		return float32(count)
	}
	var count float32
	for _, row := range mask {
		for _, m := range row {
			if m != 0 {
				count++
			}
		}
	}
	return count
}
