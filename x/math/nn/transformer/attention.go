package transformer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// CausalSelfAttention is standard multi-head causal self-attention with
// rotary position embedding on queries and keys, and an optional
// KV-cache for incremental decoding.
type CausalSelfAttention struct {
	nn.Module
	Query   *nn.Linear
	Key     *nn.Linear
	Value   *nn.Linear
	Output  *nn.Linear
	Dropout *nn.Dropout
	rope    *RotaryEmbedding
	rng     *tensor.Rng

	hidden   int
	numHeads int
	headDim  int
}

// NewCausalSelfAttention builds the four projections and the RoPE table.
// hidden must be divisible by numHeads. dropout is applied to the
// post-softmax attention weights (0 disables it).
func NewCausalSelfAttention(rng *tensor.Rng, hidden, numHeads, maxSeqLen int, ropeBase, dropout float32) (*CausalSelfAttention, error) {
	if hidden%numHeads != 0 {
		return nil, fmt.Errorf("transformer.NewCausalSelfAttention: %w: hidden_size %d not divisible by num_heads %d",
			types.ErrConfigValidation, hidden, numHeads)
	}
	headDim := hidden / numHeads
	rope, err := NewRotaryEmbedding(headDim, maxSeqLen, ropeBase)
	if err != nil {
		return nil, err
	}
	a := &CausalSelfAttention{hidden: hidden, numHeads: numHeads, headDim: headDim, rope: rope, rng: rng}
	a.Init()
	a.Query = a.RegisterModule("query_proj", nn.NewLinear(rng, hidden, hidden)).(*nn.Linear)
	a.Key = a.RegisterModule("key_proj", nn.NewLinear(rng, hidden, hidden)).(*nn.Linear)
	a.Value = a.RegisterModule("value_proj", nn.NewLinear(rng, hidden, hidden)).(*nn.Linear)
	a.Output = a.RegisterModule("output_proj", nn.NewLinear(rng, hidden, hidden)).(*nn.Linear)
	drop, err := nn.NewDropout(dropout)
	if err != nil {
		return nil, err
	}
	a.Dropout = a.RegisterModule("dropout", drop).(*nn.Dropout)
	return a, nil
}

// splitHeads reshapes (batch, seq, hidden) into (batch, heads, seq, head_dim).
func (a *CausalSelfAttention) splitHeads(x *autograd.Variable) (*autograd.Variable, error) {
	shape := x.Shape()
	batch, seq := shape[0], shape[1]
	reshaped, err := autograd.Reshape(x, types.NewShape(batch, seq, a.numHeads, a.headDim))
	if err != nil {
		return nil, err
	}
	return autograd.Transpose(reshaped, 0, 2, 1, 3)
}

// mergeHeads is the inverse of splitHeads: (batch, heads, seq, head_dim)
// back to (batch, seq, hidden).
func (a *CausalSelfAttention) mergeHeads(x *autograd.Variable) (*autograd.Variable, error) {
	transposed, err := autograd.Transpose(x, 0, 2, 1, 3)
	if err != nil {
		return nil, err
	}
	shape := transposed.Shape()
	return autograd.Reshape(transposed, types.NewShape(shape[0], shape[1], a.hidden))
}

// Forward runs causal self-attention over x (batch, seq, hidden).
// posOffset is the absolute position of x's first token (0 during a full
// prefill, cache.Len() when decoding one token at a time). If cache is
// non-nil, the newly projected keys/values are appended to it and the
// full accumulated history is attended over; the causal mask is then
// only applied across the newly added positions vs. the full history
// (a decoded token may attend to everything already cached).
func (a *CausalSelfAttention) Forward(x *autograd.Variable, cache *KVCache, posOffset int) (*autograd.Variable, error) {
	q, err := a.Query.Forward(x)
	if err != nil {
		return nil, err
	}
	k, err := a.Key.Forward(x)
	if err != nil {
		return nil, err
	}
	v, err := a.Value.Forward(x)
	if err != nil {
		return nil, err
	}

	q, err = a.splitHeads(q)
	if err != nil {
		return nil, err
	}
	k, err = a.splitHeads(k)
	if err != nil {
		return nil, err
	}
	v, err = a.splitHeads(v)
	if err != nil {
		return nil, err
	}

	q, err = a.rope.Apply(q, posOffset)
	if err != nil {
		return nil, err
	}
	k, err = a.rope.Apply(k, posOffset)
	if err != nil {
		return nil, err
	}

	newLen := k.Shape()[2]
	histLen := newLen
	if cache != nil {
		fullK, fullV, err := cache.Append(k.Value, v.Value)
		if err != nil {
			return nil, err
		}
		k = autograd.New(fullK, false)
		v = autograd.New(fullV, false)
		histLen = fullK.Shape()[2]
	}

	kT, err := autograd.Transpose(k, 0, 1, 3, 2)
	if err != nil {
		return nil, err
	}
	scores, err := autograd.MatMul(q, kT)
	if err != nil {
		return nil, err
	}
	scale := 1 / math32.Sqrt(float32(a.headDim))
	scores, err = autograd.Scale(scores, scale)
	if err != nil {
		return nil, err
	}

	mask := causalMaskFor(newLen, histLen, posOffset)
	maskVar := autograd.New(mask, false)
	scores, err = autograd.Add(scores, maskVar)
	if err != nil {
		return nil, err
	}

	weights, err := autograd.Softmax(scores, -1)
	if err != nil {
		return nil, err
	}
	weights, err = a.Dropout.Forward(weights, a.rng)
	if err != nil {
		return nil, err
	}
	attended, err := autograd.MatMul(weights, v)
	if err != nil {
		return nil, err
	}
	merged, err := a.mergeHeads(attended)
	if err != nil {
		return nil, err
	}
	return a.Output.Forward(merged)
}

// causalMaskFor builds a (1, 1, newLen, histLen) additive mask: query
// position posOffset+i may attend to key position j iff j <= posOffset+i.
// With no cache, posOffset=0 and histLen=newLen, this is the ordinary
// causal mask; with a cache, posOffset equals the cache length before
// this call so every cached position is always visible to a new token.
func causalMaskFor(newLen, histLen, posOffset int) tensor.Array {
	out := tensor.Zeros(types.NewShape(1, 1, newLen, histLen))
	negInf := math32.Inf(-1)
	for i := 0; i < newLen; i++ {
		queryPos := posOffset + i
		for j := 0; j < histLen; j++ {
			if j > queryPos {
				out.Set(negInf, 0, 0, i, j)
			}
		}
	}
	return out
}
