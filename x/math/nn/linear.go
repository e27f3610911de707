package nn

import (
	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Linear is an affine projection y = x @ W (+ b), the convention used
// throughout the attention and SwiGLU projections (modern decoder-only
// LLMs typically drop the bias term since RMSNorm/LayerNorm already
// recenters the signal each layer). Bias is nil unless the layer was
// built with NewLinearWithBias, e.g. for a plain regression head.
type Linear struct {
	Module
	Weight *autograd.Variable // (in_features, out_features)
	Bias   *autograd.Variable // (out_features,) or nil
}

// NewLinear builds a bias-free Linear layer with Kaiming-uniform
// initialized weights.
func NewLinear(rng *tensor.Rng, inFeatures, outFeatures int) *Linear {
	l := &Linear{}
	l.Init()
	l.Weight = l.RegisterParameter("weight", autograd.New(
		KaimingUniform(rng, types.NewShape(inFeatures, outFeatures), inFeatures), true))
	return l
}

// NewLinearWithBias builds a Linear layer with Kaiming-uniform weights
// and a zero-initialized bias term, for heads and regressors where the
// bias carries a real degree of freedom (no normalization layer
// downstream to absorb it).
func NewLinearWithBias(rng *tensor.Rng, inFeatures, outFeatures int) *Linear {
	l := NewLinear(rng, inFeatures, outFeatures)
	l.Bias = l.RegisterParameter("bias", autograd.New(Zeros(types.NewShape(outFeatures)), true))
	return l
}

// Forward applies the projection to the last axis of x, adding Bias if
// present.
func (l *Linear) Forward(x *autograd.Variable) (*autograd.Variable, error) {
	out, err := autograd.MatMul(x, l.Weight)
	if err != nil {
		return nil, err
	}
	if l.Bias == nil {
		return out, nil
	}
	return autograd.Add(out, l.Bias)
}
