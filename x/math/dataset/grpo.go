package dataset

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// GRPOGroup is one GRPO training example: a prompt, its K sampled
// candidate completions, and the scalar reward each candidate earned.
type GRPOGroup struct {
	Prompt     []int
	Candidates [][]int
	Rewards    []float32
}

// GRPOBatch holds, for each of the K candidate slots, the (B, T) target
// and response-mask grids losses.GRPOCandidate expects, plus the raw
// (B, K) reward matrix losses.GRPO normalizes into group-relative
// advantages.
type GRPOBatch struct {
	Targets [][][]int     // [K][B][T]
	Masks   [][][]float32 // [K][B][T]
	Rewards [][]float32   // [B][K]
}

// BuildGRPOBatch assembles a batch of prompt-grouped rollouts. Every
// group in groups must carry the same candidate count K (one group is
// one prompt's rollout set, and GRPO's group-relative advantage only
// makes sense when every group is the same size).
func BuildGRPOBatch(groups []GRPOGroup, blockSize int, padID int) (GRPOBatch, error) {
	if err := validateBlockSize(blockSize); err != nil {
		return GRPOBatch{}, fmt.Errorf("dataset.BuildGRPOBatch: %w", err)
	}
	if len(groups) == 0 {
		return GRPOBatch{}, fmt.Errorf("dataset.BuildGRPOBatch: %w: empty batch", types.ErrInvalidArgument)
	}
	k := len(groups[0].Candidates)
	if k == 0 {
		return GRPOBatch{}, fmt.Errorf("dataset.BuildGRPOBatch: %w: group 0 has no candidates", types.ErrInvalidArgument)
	}
	for i, g := range groups {
		if len(g.Candidates) != k {
			return GRPOBatch{}, fmt.Errorf("dataset.BuildGRPOBatch: %w: group %d has %d candidates, want %d",
				types.ErrShapeMismatch, i, len(g.Candidates), k)
		}
		if len(g.Rewards) != k {
			return GRPOBatch{}, fmt.Errorf("dataset.BuildGRPOBatch: %w: group %d has %d rewards, want %d",
				types.ErrShapeMismatch, i, len(g.Rewards), k)
		}
	}

	batch := GRPOBatch{
		Targets: make([][][]int, k),
		Masks:   make([][][]float32, k),
		Rewards: make([][]float32, len(groups)),
	}
	for ki := 0; ki < k; ki++ {
		batch.Targets[ki] = make([][]int, len(groups))
		batch.Masks[ki] = make([][]float32, len(groups))
	}
	for bi, g := range groups {
		batch.Rewards[bi] = append([]float32(nil), g.Rewards...)
		for ki, candidate := range g.Candidates {
			targets, mask := responseTargetsAndMask(g.Prompt, candidate, blockSize, padID)
			batch.Targets[ki][bi] = targets
			batch.Masks[ki][bi] = mask
		}
	}
	return batch, nil
}
