// Package transformer implements the building blocks of a decoder-only
// Transformer: token/position embedding, RMSNorm and LayerNorm, rotary
// position embedding, causal multi-head attention with a KV-cache, and a
// SwiGLU feed-forward block, composed into a Pre-Norm decoder block.
package transformer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Embedding combines a token embedding table with a learned absolute
// position embedding table, summed. The decoder block additionally
// rotates queries and keys with RoPE, so the position table mostly
// carries residual absolute-position signal; it trains like any other
// parameter.
type Embedding struct {
	nn.Module
	Tokens    *autograd.Variable // (vocab_size, hidden_size)
	Positions *autograd.Variable // (max_seq_len, hidden_size)
	Dropout   *nn.Dropout
	hidden    int
	vocabSize int
	maxSeqLen int
	rng       *tensor.Rng
}

// NewEmbedding constructs token and position embedding tables initialized
// N(0, 1/sqrt(hidden)). dropout is the embedding dropout probability (0
// disables it); rng is retained and consulted by Dropout on every
// Forward call.
func NewEmbedding(rng *tensor.Rng, vocabSize, maxSeqLen, hidden int, dropout float32) (*Embedding, error) {
	e := &Embedding{hidden: hidden, vocabSize: vocabSize, maxSeqLen: maxSeqLen, rng: rng}
	e.Init()
	std := 1 / math32.Sqrt(float32(hidden))
	e.Tokens = e.RegisterParameter("tokens", autograd.New(nn.Normal(rng, types.NewShape(vocabSize, hidden), std), true))
	e.Positions = e.RegisterParameter("positions", autograd.New(nn.Normal(rng, types.NewShape(maxSeqLen, hidden), std), true))
	drop, err := nn.NewDropout(dropout)
	if err != nil {
		return nil, err
	}
	e.Dropout = e.RegisterModule("dropout", drop).(*nn.Dropout)
	return e, nil
}

// Forward looks up embeddings for a (batch, seq_len) grid of token ids and
// adds the position embedding for offsets [posOffset, posOffset+seq_len),
// the latter enabling KV-cache decoding to embed a single new token at its
// true position rather than always position 0.
func (e *Embedding) Forward(tokenIDs [][]int, posOffset int) (*autograd.Variable, error) {
	batch := len(tokenIDs)
	if batch == 0 {
		return nil, fmt.Errorf("transformer.Embedding.Forward: %w: empty batch", types.ErrInvalidArgument)
	}
	seqLen := len(tokenIDs[0])
	flat := make([]int, 0, batch*seqLen)
	for _, row := range tokenIDs {
		if len(row) != seqLen {
			return nil, fmt.Errorf("transformer.Embedding.Forward: %w: ragged batch", types.ErrInvalidArgument)
		}
		flat = append(flat, row...)
	}
	gathered, err := autograd.IndexSelect(e.Tokens, 0, flat)
	if err != nil {
		return nil, err
	}
	gathered, err = autograd.Reshape(gathered, types.NewShape(batch, seqLen, e.hidden))
	if err != nil {
		return nil, err
	}

	if posOffset+seqLen > e.maxSeqLen {
		return nil, fmt.Errorf("transformer.Embedding.Forward: %w: position %d exceeds max_seq_len %d",
			types.ErrInvalidArgument, posOffset+seqLen, e.maxSeqLen)
	}
	posIdx := make([]int, seqLen)
	for i := range posIdx {
		posIdx[i] = posOffset + i
	}
	posEmb, err := autograd.IndexSelect(e.Positions, 0, posIdx)
	if err != nil {
		return nil, err
	}
	posEmb, err = autograd.Reshape(posEmb, types.NewShape(1, seqLen, e.hidden))
	if err != nil {
		return nil, err
	}
	posEmb, err = autograd.BroadcastTo(posEmb, types.NewShape(batch, seqLen, e.hidden))
	if err != nil {
		return nil, err
	}
	summed, err := autograd.Add(gathered, posEmb)
	if err != nil {
		return nil, err
	}
	return e.Dropout.Forward(summed, e.rng)
}
