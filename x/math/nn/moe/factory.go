package moe

import (
	"github.com/nanoforge/nanoforge/x/math/nn/transformer"
	"github.com/nanoforge/nanoforge/x/math/tensor"
)

// FeedForwardFactory returns a transformer.FeedForwardFactory that builds
// a MoE layer every interval-th decoder block (1-indexed: interval=2
// alternates dense, MoE, dense, MoE, ...) and a dense SwiGLU block
// everywhere else, the "alternating dense/MoE layers by depth" pattern
// transformer.FeedForwardFactory's doc comment calls for. moeCfg.InputDim
// and moeCfg.OutputDim are overridden to denseCfg.Hidden so every block
// in the stack exposes the same residual width regardless of which
// feed-forward kind it got.
func FeedForwardFactory(denseCfg transformer.Config, moeCfg Config, interval int) transformer.FeedForwardFactory {
	moeCfg.InputDim = denseCfg.Hidden
	moeCfg.OutputDim = denseCfg.Hidden
	dense := transformer.DenseFeedForward(denseCfg)
	return func(rng *tensor.Rng, layerIndex int) (transformer.FeedForward, error) {
		if interval > 0 && (layerIndex+1)%interval == 0 {
			return NewLayer(rng, moeCfg)
		}
		return dense(rng, layerIndex)
	}
}
