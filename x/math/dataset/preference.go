package dataset

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// PreferencePair is one DPO training example: a shared prompt plus a
// preferred (chosen) and dispreferred (rejected) continuation.
type PreferencePair struct {
	Prompt   []int
	Chosen   []int
	Rejected []int
}

// PreferenceBatch carries the target/mask grids losses.DPOBatch expects,
// with the mask covering only response tokens: prompt tokens never
// contribute to the preference log-probabilities.
type PreferenceBatch struct {
	ChosenTargets   [][]int
	RejectedTargets [][]int
	ChosenMask      [][]float32
	RejectedMask    [][]float32
}

// BuildPreferenceBatch assembles prompt+completion sequences and their
// response-only masks for a batch of preference pairs. Each sequence is
// prompt followed by completion, padded or truncated to blockSize+1
// tokens before being shifted into (target, mask) the same way
// BuildCausalLMBatch does — the only difference is the mask also zeroes
// out every position still inside the prompt.
func BuildPreferenceBatch(pairs []PreferencePair, blockSize int, padID int) (PreferenceBatch, error) {
	if err := validateBlockSize(blockSize); err != nil {
		return PreferenceBatch{}, fmt.Errorf("dataset.BuildPreferenceBatch: %w", err)
	}
	if len(pairs) == 0 {
		return PreferenceBatch{}, fmt.Errorf("dataset.BuildPreferenceBatch: %w: empty batch", types.ErrInvalidArgument)
	}

	batch := PreferenceBatch{
		ChosenTargets:   make([][]int, len(pairs)),
		RejectedTargets: make([][]int, len(pairs)),
		ChosenMask:      make([][]float32, len(pairs)),
		RejectedMask:    make([][]float32, len(pairs)),
	}
	for i, pair := range pairs {
		targets, mask := responseTargetsAndMask(pair.Prompt, pair.Chosen, blockSize, padID)
		batch.ChosenTargets[i] = targets
		batch.ChosenMask[i] = mask

		targets, mask = responseTargetsAndMask(pair.Prompt, pair.Rejected, blockSize, padID)
		batch.RejectedTargets[i] = targets
		batch.RejectedMask[i] = mask
	}
	return batch, nil
}

// responseTargetsAndMask builds the shifted-target row and its response
// mask for one prompt+completion sequence. The first len(prompt)-1
// positions of the shifted window, whose targets are still prompt tokens,
// never count toward the loss, and neither do padding positions.
func responseTargetsAndMask(prompt, completion []int, blockSize, padID int) ([]int, []float32) {
	full := make([]int, 0, len(prompt)+len(completion))
	full = append(full, prompt...)
	full = append(full, completion...)

	padded, validLen := padOrTruncate(full, blockSize+1, padID)
	targets := padded[1 : blockSize+1]

	mask := make([]float32, blockSize)
	for t := range mask {
		srcIdx := t + 1
		if srcIdx >= validLen {
			continue // padding
		}
		if srcIdx < len(prompt) {
			continue // still inside the prompt
		}
		mask[t] = 1
	}
	return targets, mask
}
