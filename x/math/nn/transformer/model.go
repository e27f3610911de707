package transformer

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Config describes the hyperparameters of a decoder-only Transformer
// language model.
type Config struct {
	VocabSize int
	Hidden    int
	NumLayers int
	NumHeads  int
	MaxSeqLen int
	FFNInner  int
	RopeBase  float32

	// EmbedDropout and AttnDropout are applied only while the owning
	// module is in training mode; 0 disables either independently.
	EmbedDropout float32
	AttnDropout  float32
}

// Validate checks the invariants every layer constructor assumes
// (hidden_size divisible by num_heads, positive sizes).
func (c Config) Validate() error {
	if c.VocabSize <= 0 || c.Hidden <= 0 || c.NumLayers <= 0 || c.NumHeads <= 0 || c.MaxSeqLen <= 0 || c.FFNInner <= 0 {
		return fmt.Errorf("%w: all Config sizes must be positive, got %+v", types.ErrConfigValidation, c)
	}
	if c.Hidden%c.NumHeads != 0 {
		return fmt.Errorf("%w: hidden_size %d not divisible by num_heads %d", types.ErrConfigValidation, c.Hidden, c.NumHeads)
	}
	return nil
}

// FeedForwardFactory builds the feed-forward sublayer for one decoder
// block, given the block's index (e.g. alternating dense and
// Mixture-of-Experts layers by depth).
type FeedForwardFactory func(rng *tensor.Rng, layerIndex int) (FeedForward, error)

// DenseFeedForward returns a FeedForwardFactory that builds a plain
// SwiGLU block at every layer.
func DenseFeedForward(cfg Config) FeedForwardFactory {
	return func(rng *tensor.Rng, layerIndex int) (FeedForward, error) {
		return NewSwiGLU(rng, cfg.Hidden, cfg.FFNInner), nil
	}
}

// Model is a full decoder-only Transformer: token/position embedding,
// NumLayers decoder blocks, a final RMSNorm, and an output projection
// tied to nothing in particular (an independent head, per GPT-style
// convention rather than weight-tying, to keep the embedding and head
// gradients decoupled).
type Model struct {
	nn.Module
	Config    Config
	Embedding *Embedding
	Blocks    []*DecoderBlock
	FinalNorm *RMSNorm
	Head      *nn.Linear
}

// NewModel builds a model from cfg, using ffnFactory to construct each
// block's feed-forward sublayer (DenseFeedForward for a plain model, or a
// MoE-backed factory for a sparse one).
func NewModel(rng *tensor.Rng, cfg Config, ffnFactory FeedForwardFactory) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{Config: cfg}
	m.Init()
	embedding, err := NewEmbedding(rng, cfg.VocabSize, cfg.MaxSeqLen, cfg.Hidden, cfg.EmbedDropout)
	if err != nil {
		return nil, err
	}
	m.Embedding = m.RegisterModule("embedding", embedding).(*Embedding)
	m.Blocks = make([]*DecoderBlock, cfg.NumLayers)
	for i := 0; i < cfg.NumLayers; i++ {
		ffn, err := ffnFactory(rng, i)
		if err != nil {
			return nil, err
		}
		block, err := NewDecoderBlock(rng, cfg.Hidden, cfg.NumHeads, cfg.MaxSeqLen, cfg.RopeBase, cfg.AttnDropout, ffn)
		if err != nil {
			return nil, err
		}
		m.Blocks[i] = m.RegisterModule(fmt.Sprintf("block.%d", i), block).(*DecoderBlock)
	}
	m.FinalNorm = m.RegisterModule("final_norm", NewRMSNorm(cfg.Hidden)).(*RMSNorm)
	m.Head = m.RegisterModule("head", nn.NewLinear(rng, cfg.Hidden, cfg.VocabSize)).(*nn.Linear)
	return m, nil
}

// Forward runs the full model over a (batch, seq_len) grid of token ids,
// returning logits of shape (batch, seq_len, vocab_size). posOffset is 0
// for a full prefill and cache.Len() (read before this call) when
// decoding; caches is nil during training and parallel to m.Blocks during
// incremental decoding.
func (m *Model) Forward(tokenIDs [][]int, posOffset int, caches []*KVCache) (*autograd.Variable, error) {
	x, err := m.Embedding.Forward(tokenIDs, posOffset)
	if err != nil {
		return nil, err
	}
	for i, block := range m.Blocks {
		var cache *KVCache
		if caches != nil {
			cache = caches[i]
		}
		block.WithCache(cache)
		x, err = block.Forward(x, posOffset)
		if err != nil {
			return nil, fmt.Errorf("transformer.Model.Forward: block %d: %w", i, err)
		}
	}
	x, err = m.FinalNorm.Forward(x)
	if err != nil {
		return nil, err
	}
	return m.Head.Forward(x)
}

// NewCaches allocates one KVCache per layer for incremental decoding with
// the given batch size and capacity.
func (m *Model) NewCaches(batch, capacity int) []*KVCache {
	caches := make([]*KVCache, len(m.Blocks))
	headDim := m.Config.Hidden / m.Config.NumHeads
	for i := range caches {
		caches[i] = NewKVCache(batch, m.Config.NumHeads, capacity, headDim)
	}
	return caches
}
