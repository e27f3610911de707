// Package moe implements a Mixture-of-Experts feed-forward sublayer: a
// noisy top-k router dispatches each token to a handful of narrow expert
// MLPs via the batch-parallel weight-mask formulation, and reports the
// importance/load telemetry the load-balance auxiliary loss is built
// from. Layer implements transformer.FeedForward, so it drops into
// transformer.Model wherever DenseFeedForward would.
package moe

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Config describes one MoE layer's shape and routing behavior.
type Config struct {
	NumExperts int
	TopK       int
	InputDim   int
	HiddenDim  int
	OutputDim  int

	// NoiseStd scales the router's learned per-expert noise weights
	// (Shazeer-style noisy top-k gating). 0 disables routing noise
	// entirely, even during training.
	NoiseStd float32

	// RoutingDropout is the probability that an otherwise-selected
	// expert's contribution for a token is dropped. 0 disables it.
	RoutingDropout float32

	// LoadBalanceAlpha and LoadBalanceBeta weight the importance-CV² and
	// load-CV² terms of the load-balance auxiliary loss.
	LoadBalanceAlpha float32
	LoadBalanceBeta  float32
}

// Validate checks the invariants Router/Expert/Layer construction assumes.
func (c Config) Validate() error {
	if c.NumExperts <= 0 || c.InputDim <= 0 || c.HiddenDim <= 0 || c.OutputDim <= 0 {
		return fmt.Errorf("moe.Config: %w: NumExperts/InputDim/HiddenDim/OutputDim must be positive, got %+v",
			types.ErrConfigValidation, c)
	}
	if c.TopK <= 0 || c.TopK > c.NumExperts {
		return fmt.Errorf("moe.Config: %w: top_k %d must be in [1, num_experts=%d]",
			types.ErrConfigValidation, c.TopK, c.NumExperts)
	}
	if c.NoiseStd < 0 {
		return fmt.Errorf("moe.Config: %w: noise_std %v must be non-negative", types.ErrConfigValidation, c.NoiseStd)
	}
	if c.RoutingDropout < 0 || c.RoutingDropout >= 1 {
		return fmt.Errorf("moe.Config: %w: routing_dropout %v must be in [0, 1)", types.ErrConfigValidation, c.RoutingDropout)
	}
	return nil
}
