package transformer

import (
	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
)

// DecoderBlock is a single Pre-Norm Transformer decoder layer:
// x = x + Attn(RMSNorm(x))
// x = x + FeedForward(RMSNorm(x))
// FeedForward is supplied by the caller so the same block shape serves
// both the dense SwiGLU path and the Mixture-of-Experts path.
type DecoderBlock struct {
	nn.Module
	AttnNorm *RMSNorm
	Attn     *CausalSelfAttention
	FFNNorm  *RMSNorm
	FFN      FeedForward

	cache *KVCache
}

// FeedForward is implemented by whatever sits after the attention
// sublayer: a dense SwiGLU block or a Mixture-of-Experts layer.
type FeedForward interface {
	nn.Layer
	Forward(x *autograd.Variable) (*autograd.Variable, error)
}

// NewDecoderBlock wires a fresh attention sublayer and the given
// feed-forward sublayer (constructed by the caller, since its shape
// varies between the dense and MoE configurations) into a Pre-Norm
// residual block.
func NewDecoderBlock(rng *tensor.Rng, hidden, numHeads, maxSeqLen int, ropeBase, attnDropout float32, ffn FeedForward) (*DecoderBlock, error) {
	attn, err := NewCausalSelfAttention(rng, hidden, numHeads, maxSeqLen, ropeBase, attnDropout)
	if err != nil {
		return nil, err
	}
	b := &DecoderBlock{
		AttnNorm: NewRMSNorm(hidden),
		Attn:     attn,
		FFNNorm:  NewRMSNorm(hidden),
		FFN:      ffn,
	}
	b.Init()
	b.RegisterModule("attn_norm", b.AttnNorm)
	b.RegisterModule("attn", b.Attn)
	b.RegisterModule("ffn_norm", b.FFNNorm)
	b.RegisterModule("ffn", ffn)
	return b, nil
}

// WithCache attaches a KV-cache to this block's attention sublayer for
// incremental decoding; pass nil to disable caching (the default, used
// for full-sequence training forward passes).
func (b *DecoderBlock) WithCache(cache *KVCache) *DecoderBlock {
	b.cache = cache
	return b
}

// Forward runs one decoder block over x (batch, seq, hidden). posOffset
// is the absolute position of x's first token, used by both RoPE and the
// KV-cache.
func (b *DecoderBlock) Forward(x *autograd.Variable, posOffset int) (*autograd.Variable, error) {
	normed, err := b.AttnNorm.Forward(x)
	if err != nil {
		return nil, err
	}
	attnOut, err := b.Attn.Forward(normed, b.cache, posOffset)
	if err != nil {
		return nil, err
	}
	x, err = autograd.Add(x, attnOut)
	if err != nil {
		return nil, err
	}

	normed2, err := b.FFNNorm.Forward(x)
	if err != nil {
		return nil, err
	}
	ffnOut, err := b.FFN.Forward(normed2)
	if err != nil {
		return nil, err
	}
	return autograd.Add(x, ffnOut)
}
