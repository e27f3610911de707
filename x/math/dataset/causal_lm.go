package dataset

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// CausalLMBatch is the (Inputs, Targets, Mask) triple losses.CausalLM
// consumes: Targets[b][t] is the token that should follow Inputs[b][t],
// and Mask[b][t] is 0 wherever Targets[b][t] is padding.
type CausalLMBatch struct {
	Inputs  [][]int
	Targets [][]int
	Mask    [][]float32
}

// BuildCausalLMBatch turns a batch of raw token sequences into next-token
// prediction inputs: for each example, Inputs holds tokens[0:blockSize]
// and Targets holds the same window shifted left by one, so
// Targets[b][t] == Inputs[b][t+1] whenever both are real tokens. A
// sequence shorter than blockSize+1 is right-padded with padID and its
// padded target positions are masked out.
func BuildCausalLMBatch(examples []Example, blockSize int, padID int) (CausalLMBatch, error) {
	if err := validateBlockSize(blockSize); err != nil {
		return CausalLMBatch{}, fmt.Errorf("dataset.BuildCausalLMBatch: %w", err)
	}
	if len(examples) == 0 {
		return CausalLMBatch{}, fmt.Errorf("dataset.BuildCausalLMBatch: %w: empty batch", types.ErrInvalidArgument)
	}

	batch := CausalLMBatch{
		Inputs:  make([][]int, len(examples)),
		Targets: make([][]int, len(examples)),
		Mask:    make([][]float32, len(examples)),
	}
	for i, ex := range examples {
		padded, validLen := padOrTruncate(ex.Tokens, blockSize+1, padID)
		inputs := padded[:blockSize]
		targets := padded[1 : blockSize+1]

		mask := make([]float32, blockSize)
		for t := range mask {
			// target at position t comes from padded[t+1]; it's real only
			// if that source index fell within the sequence's valid span.
			if t+1 < validLen {
				mask[t] = 1
			}
		}

		batch.Inputs[i] = inputs
		batch.Targets[i] = targets
		batch.Mask[i] = mask
	}
	return batch, nil
}
