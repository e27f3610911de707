// Package dataset assembles pre-tokenized integer sequences into
// training batches: plain causal-LM shifts, DPO preference pairs, and
// GRPO candidate groups, plus the shuffle-between-epochs cursor every one
// of them shares. The training driver owns the cursor: batches are
// pulled explicitly through HasNext/Next rather than produced by a
// generator.
package dataset

import (
	"fmt"

	. "github.com/nanoforge/nanoforge/pkg/logger"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Example is one pre-tokenized training example: a flat token sequence.
// Causal-LM examples use Tokens directly; preference/GRPO examples store
// their prompt and completions in the richer types below and never embed
// an Example themselves.
type Example struct {
	Tokens []int
}

// SequenceSet holds a fixed slice of Examples plus a cursor:
// deterministic row order until Shuffle is called, Reset rewinds the
// cursor to the start of a fresh epoch.
type SequenceSet struct {
	examples []Example
	cursor   int
}

// NewSequenceSet wraps examples for cursor-based batch iteration.
func NewSequenceSet(examples []Example) *SequenceSet {
	return &SequenceSet{examples: examples}
}

// Len reports the total example count.
func (s *SequenceSet) Len() int { return len(s.examples) }

// Reset rewinds the cursor to the beginning, starting a new epoch.
func (s *SequenceSet) Reset() { s.cursor = 0 }

// Shuffle permutes the example order in place using rng, then resets the
// cursor — call once per epoch before iterating if randomized order is
// wanted.
func (s *SequenceSet) Shuffle(rng *tensor.Rng) {
	rng.Shuffle(len(s.examples), func(i, j int) {
		s.examples[i], s.examples[j] = s.examples[j], s.examples[i]
	})
	s.Reset()
	Log.Debug().Int("examples", len(s.examples)).Msg("dataset: shuffled epoch")
}

// HasNext reports whether another batch remains in the current epoch.
func (s *SequenceSet) HasNext() bool { return s.cursor < len(s.examples) }

// Next returns the next up-to-batchSize examples and advances the cursor.
// The final batch of an epoch may be shorter than batchSize; callers that
// need a fixed batch size should check len(result) or drop a short tail.
func (s *SequenceSet) Next(batchSize int) []Example {
	if batchSize <= 0 || !s.HasNext() {
		return nil
	}
	end := s.cursor + batchSize
	if end > len(s.examples) {
		end = len(s.examples)
	}
	batch := s.examples[s.cursor:end]
	s.cursor = end
	return batch
}

// padOrTruncate returns a copy of tokens exactly length long: truncated
// from the end if longer, right-padded with padID if shorter. validLen
// reports how many of the returned tokens were real (non-pad).
func padOrTruncate(tokens []int, length, padID int) (out []int, validLen int) {
	out = make([]int, length)
	validLen = len(tokens)
	if validLen > length {
		validLen = length
	}
	copy(out, tokens[:validLen])
	for i := validLen; i < length; i++ {
		out[i] = padID
	}
	return out, validLen
}

func validateBlockSize(blockSize int) error {
	if blockSize <= 0 {
		return fmt.Errorf("%w: block_size %d must be positive", types.ErrInvalidArgument, blockSize)
	}
	return nil
}
