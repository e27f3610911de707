package transformer

import (
	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
)

// SwiGLU is a gated feed-forward block: down(swish(gate(x)) * up(x)).
// All three projections are bias-free, matching the rest of this
// package's attention projections.
type SwiGLU struct {
	nn.Module
	Gate *nn.Linear
	Up   *nn.Linear
	Down *nn.Linear
}

// NewSwiGLU builds a SwiGLU block. innerDim is conventionally
// round(8/3 * hidden) for LLaMA-family models, but is left to the caller
// so it can be swapped via configuration.
func NewSwiGLU(rng *tensor.Rng, hidden, innerDim int) *SwiGLU {
	s := &SwiGLU{}
	s.Init()
	s.Gate = s.RegisterModule("gate_proj", nn.NewLinear(rng, hidden, innerDim)).(*nn.Linear)
	s.Up = s.RegisterModule("up_proj", nn.NewLinear(rng, hidden, innerDim)).(*nn.Linear)
	s.Down = s.RegisterModule("down_proj", nn.NewLinear(rng, innerDim, hidden)).(*nn.Linear)
	return s
}

// Forward computes down(swish(gate(x)) * up(x)), where swish(z) = z * sigmoid(z).
func (s *SwiGLU) Forward(x *autograd.Variable) (*autograd.Variable, error) {
	gate, err := s.Gate.Forward(x)
	if err != nil {
		return nil, err
	}
	gateSig, err := autograd.Sigmoid(gate)
	if err != nil {
		return nil, err
	}
	swish, err := autograd.Mul(gate, gateSig)
	if err != nil {
		return nil, err
	}
	up, err := s.Up.Forward(x)
	if err != nil {
		return nil, err
	}
	gated, err := autograd.Mul(swish, up)
	if err != nil {
		return nil, err
	}
	return s.Down.Forward(gated)
}
