package nn

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Dropout zeroes each element of its input independently with probability
// P during training, rescaling survivors by 1/(1-P) so the expected
// activation is unchanged between train and eval (inverted dropout). It
// is a no-op whenever the module is in eval mode or P is zero, so a
// caller can disable all randomness for a deterministic forward pass.
type Dropout struct {
	Module
	P float32
}

// NewDropout builds a Dropout layer with drop probability p.
func NewDropout(p float32) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("nn.NewDropout: %w: probability %v must be in [0, 1)", types.ErrInvalidArgument, p)
	}
	d := &Dropout{P: p}
	d.Init()
	return d, nil
}

// Forward applies dropout to x using rng, consulting the module's
// train/eval flag.
func (d *Dropout) Forward(x *autograd.Variable, rng *tensor.Rng) (*autograd.Variable, error) {
	if !d.IsTraining() || d.P == 0 {
		return x, nil
	}
	mask := rng.DropoutMask(x.Shape(), 1-d.P)
	maskVar := autograd.New(mask, false)
	return autograd.Mul(x, maskVar)
}
