package dataset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/x/math/dataset"
	"github.com/nanoforge/nanoforge/x/math/tensor"
)

func exampleSet(n int) []dataset.Example {
	out := make([]dataset.Example, n)
	for i := range out {
		out[i] = dataset.Example{Tokens: []int{i, i + 1, i + 2, i + 3}}
	}
	return out
}

func TestSequenceSetCursorAdvancesDeterministically(t *testing.T) {
	set := dataset.NewSequenceSet(exampleSet(5))
	require.True(t, set.HasNext())

	first := set.Next(2)
	assert.Len(t, first, 2)
	assert.Equal(t, 0, first[0].Tokens[0])

	second := set.Next(2)
	assert.Len(t, second, 2)
	assert.Equal(t, 2, second[0].Tokens[0])

	last := set.Next(2)
	assert.Len(t, last, 1) // final short batch
	assert.False(t, set.HasNext())
	assert.Nil(t, set.Next(2))
}

func TestSequenceSetResetRewindsCursor(t *testing.T) {
	set := dataset.NewSequenceSet(exampleSet(3))
	set.Next(3)
	assert.False(t, set.HasNext())
	set.Reset()
	assert.True(t, set.HasNext())
}

func TestSequenceSetShufflePreservesSetMembership(t *testing.T) {
	set := dataset.NewSequenceSet(exampleSet(10))
	set.Shuffle(tensor.NewRng(42))

	seen := make(map[int]bool)
	for set.HasNext() {
		for _, ex := range set.Next(3) {
			seen[ex.Tokens[0]] = true
		}
	}
	assert.Len(t, seen, 10)
}

func TestBuildCausalLMBatchShiftsTargetsByOne(t *testing.T) {
	examples := []dataset.Example{{Tokens: []int{1, 2, 3, 4, 5}}}
	batch, err := dataset.BuildCausalLMBatch(examples, 4, -1)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, batch.Inputs[0])
	assert.Equal(t, []int{2, 3, 4, 5}, batch.Targets[0])
	for _, m := range batch.Mask[0] {
		assert.Equal(t, float32(1), m)
	}
}

func TestBuildCausalLMBatchMasksPadding(t *testing.T) {
	examples := []dataset.Example{{Tokens: []int{1, 2}}}
	batch, err := dataset.BuildCausalLMBatch(examples, 4, -1)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, -1, -1}, batch.Inputs[0])
	// valid span is 2 tokens; target[0]=padded[1]=2 (real), target[1]=padded[2]=pad
	assert.Equal(t, []float32{1, 0, 0, 0}, batch.Mask[0])
}

func TestBuildCausalLMBatchRejectsEmptyBatch(t *testing.T) {
	_, err := dataset.BuildCausalLMBatch(nil, 4, -1)
	require.Error(t, err)
}

func TestBuildPreferenceBatchMasksPromptAndPadding(t *testing.T) {
	pairs := []dataset.PreferencePair{{
		Prompt:   []int{10, 11},
		Chosen:   []int{1, 2},
		Rejected: []int{3},
	}}
	batch, err := dataset.BuildPreferenceBatch(pairs, 5, -1)
	require.NoError(t, err)

	// full chosen sequence: [10, 11, 1, 2] padded to length 6 -> targets = padded[1:6]
	assert.Equal(t, []int{11, 1, 2, -1, -1}, batch.ChosenTargets[0])
	// prompt occupies positions 0..1 of the full sequence; targets[0] (=padded[1]=11)
	// is still inside the prompt and must be masked, targets[1],[2] are response tokens,
	// the rest is padding.
	assert.Equal(t, []float32{0, 1, 1, 0, 0}, batch.ChosenMask[0])

	// rejected: full sequence [10, 11, 3] padded to length 6
	assert.Equal(t, []float32{0, 1, 0, 0, 0}, batch.RejectedMask[0])
}

func TestBuildGRPOBatchRequiresUniformCandidateCount(t *testing.T) {
	groups := []dataset.GRPOGroup{
		{Prompt: []int{1}, Candidates: [][]int{{1, 2}, {3, 4}}, Rewards: []float32{1, 0}},
		{Prompt: []int{2}, Candidates: [][]int{{5, 6}}, Rewards: []float32{1}},
	}
	_, err := dataset.BuildGRPOBatch(groups, 4, -1)
	require.Error(t, err)
}

func TestBuildGRPOBatchProducesPerCandidateGrids(t *testing.T) {
	groups := []dataset.GRPOGroup{
		{Prompt: []int{9}, Candidates: [][]int{{1, 2}, {3, 4}}, Rewards: []float32{2, -1}},
		{Prompt: []int{9}, Candidates: [][]int{{5, 6}, {7, 8}}, Rewards: []float32{0, 3}},
	}
	batch, err := dataset.BuildGRPOBatch(groups, 4, -1)
	require.NoError(t, err)

	require.Len(t, batch.Targets, 2) // K=2 candidate slots
	require.Len(t, batch.Targets[0], 2) // B=2 groups
	assert.Equal(t, [][]float32{{2, -1}, {0, 3}}, batch.Rewards)
}
