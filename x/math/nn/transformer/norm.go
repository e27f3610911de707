package transformer

import (
	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// RMSNormEps is the epsilon RMSNorm adds under the square root. It is
// kept distinct from LayerNormEps deliberately: the two normalizations
// were standardized against different reference implementations and
// nothing in this codebase assumes they coincide.
const RMSNormEps = 1e-6

// LayerNormEps is the epsilon LayerNorm adds under the square root.
const LayerNormEps = 1e-5

// RMSNorm normalizes its input by the root-mean-square of the last axis
// and rescales by a learned gain, without the mean-centering or bias
// term LayerNorm uses.
type RMSNorm struct {
	nn.Module
	Gain *autograd.Variable // (hidden_size,)
}

// NewRMSNorm builds an RMSNorm layer with gain initialized to 1.
func NewRMSNorm(hidden int) *RMSNorm {
	n := &RMSNorm{}
	n.Init()
	n.Gain = n.RegisterParameter("gain", autograd.New(nn.Ones(types.NewShape(hidden)), true))
	return n
}

// Forward applies RMSNorm over the last axis of x.
func (n *RMSNorm) Forward(x *autograd.Variable) (*autograd.Variable, error) {
	axis := x.Shape().Rank() - 1
	sq, err := autograd.Mul(x, x)
	if err != nil {
		return nil, err
	}
	meanSq, err := autograd.Mean(sq, []int{axis}, true)
	if err != nil {
		return nil, err
	}
	withEps, err := autograd.AddScalar(meanSq, RMSNormEps)
	if err != nil {
		return nil, err
	}
	rms, err := autograd.Sqrt(withEps)
	if err != nil {
		return nil, err
	}
	normalized, err := autograd.Div(x, rms)
	if err != nil {
		return nil, err
	}
	return autograd.Mul(normalized, n.Gain)
}

// LayerNorm normalizes its input to zero mean and unit variance over the
// last axis, then rescales/shifts by learned gain and bias.
type LayerNorm struct {
	nn.Module
	Gain *autograd.Variable
	Bias *autograd.Variable
}

// NewLayerNorm builds a LayerNorm layer with gain 1 and bias 0.
func NewLayerNorm(hidden int) *LayerNorm {
	n := &LayerNorm{}
	n.Init()
	n.Gain = n.RegisterParameter("gain", autograd.New(nn.Ones(types.NewShape(hidden)), true))
	n.Bias = n.RegisterParameter("bias", autograd.New(nn.Zeros(types.NewShape(hidden)), true))
	return n
}

// Forward applies LayerNorm over the last axis of x.
func (n *LayerNorm) Forward(x *autograd.Variable) (*autograd.Variable, error) {
	axis := x.Shape().Rank() - 1
	mean, err := autograd.Mean(x, []int{axis}, true)
	if err != nil {
		return nil, err
	}
	centered, err := autograd.Sub(x, mean)
	if err != nil {
		return nil, err
	}
	sq, err := autograd.Mul(centered, centered)
	if err != nil {
		return nil, err
	}
	variance, err := autograd.Mean(sq, []int{axis}, true)
	if err != nil {
		return nil, err
	}
	withEps, err := autograd.AddScalar(variance, LayerNormEps)
	if err != nil {
		return nil, err
	}
	std, err := autograd.Sqrt(withEps)
	if err != nil {
		return nil, err
	}
	normalized, err := autograd.Div(centered, std)
	if err != nil {
		return nil, err
	}
	scaled, err := autograd.Mul(normalized, n.Gain)
	if err != nil {
		return nil, err
	}
	return autograd.Add(scaled, n.Bias)
}
