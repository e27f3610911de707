package optim

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// SGD is plain Stochastic Gradient Descent: param -= lr * grad, with no
// per-parameter state. Kept alongside Adam for baselines and sanity
// checks where momentum would only obscure what the model is doing.
type SGD struct {
	root nn.Layer
	lr   float32
}

// NewSGD builds an SGD optimizer over every parameter reachable from root.
func NewSGD(root nn.Layer, lr float32) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("optim.NewSGD: %w: learning rate %v must be positive", types.ErrInvalidArgument, lr)
	}
	return &SGD{root: root, lr: lr}, nil
}

// SetLR overwrites the learning rate.
func (s *SGD) SetLR(lr float32) { s.lr = lr }

// LR reports the optimizer's current learning rate.
func (s *SGD) LR() float32 { return s.lr }

// Step subtracts lr*grad from every parameter reachable from root that
// has a gradient.
func (s *SGD) Step() error {
	var warned error
	for _, np := range nn.NamedParameters(s.root) {
		param := np.Param
		if !param.RequiresGrad() || param.Grad == nil {
			continue
		}
		grad := *param.Grad
		if hasNonFinite(grad) {
			warned = fmt.Errorf("optim.SGD.Step: %w: parameter %q has a non-finite gradient, skipping its update",
				types.ErrNumericWarning, np.Name)
			continue
		}
		data := param.Value.Data()
		gData := grad.Data()
		for i, g := range gData {
			data[i] -= s.lr * g
		}
	}
	return warned
}
