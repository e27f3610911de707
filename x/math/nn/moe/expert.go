package moe

import (
	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
)

// Expert is a bias-free two-layer MLP with a GELU nonlinearity: the
// per-expert feed-forward path dispatched to by Layer, narrower
// (HiddenDim) than the dense SwiGLU path it replaces.
type Expert struct {
	nn.Module
	Up   *nn.Linear
	Down *nn.Linear
}

// NewExpert builds one expert MLP.
func NewExpert(rng *tensor.Rng, inputDim, hiddenDim, outputDim int) *Expert {
	e := &Expert{}
	e.Init()
	e.Up = e.RegisterModule("up_proj", nn.NewLinear(rng, inputDim, hiddenDim)).(*nn.Linear)
	e.Down = e.RegisterModule("down_proj", nn.NewLinear(rng, hiddenDim, outputDim)).(*nn.Linear)
	return e
}

// Forward computes down(gelu(up(x))).
func (e *Expert) Forward(x *autograd.Variable) (*autograd.Variable, error) {
	h, err := e.Up.Forward(x)
	if err != nil {
		return nil, err
	}
	act, err := GELU(h)
	if err != nil {
		return nil, err
	}
	return e.Down.Forward(act)
}
