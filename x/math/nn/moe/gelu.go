package moe

import "github.com/nanoforge/nanoforge/x/math/autograd"

// geluTanhCoeff is sqrt(2/pi), and geluCubicCoeff is the standard cubic
// correction term, together giving the usual tanh-based approximation of
// the Gaussian Error Linear Unit.
const (
	geluTanhCoeff  = 0.7978845608028654
	geluCubicCoeff = 0.044715
)

// GELU applies the tanh approximation of the Gaussian Error Linear Unit,
// gelu(x) ≈ 0.5x(1 + tanh(√(2/π)(x + 0.044715x³))), composed entirely
// from existing differentiable primitives rather than a bespoke Function
// node, since the kernel exposes no erf.
func GELU(x *autograd.Variable) (*autograd.Variable, error) {
	xCubed, err := autograd.Pow(x, 3)
	if err != nil {
		return nil, err
	}
	cubicTerm, err := autograd.Scale(xCubed, geluCubicCoeff)
	if err != nil {
		return nil, err
	}
	inner, err := autograd.Add(x, cubicTerm)
	if err != nil {
		return nil, err
	}
	inner, err = autograd.Scale(inner, geluTanhCoeff)
	if err != nil {
		return nil, err
	}
	t, err := autograd.Tanh(inner)
	if err != nil {
		return nil, err
	}
	onePlusT, err := autograd.AddScalar(t, 1)
	if err != nil {
		return nil, err
	}
	xHalf, err := autograd.Scale(x, 0.5)
	if err != nil {
		return nil, err
	}
	return autograd.Mul(xHalf, onePlusT)
}

// softplus computes log(1+e^x) element-wise, used to keep the router's
// learned noise scale positive.
func softplus(x *autograd.Variable) (*autograd.Variable, error) {
	e, err := autograd.Exp(x)
	if err != nil {
		return nil, err
	}
	onePlusE, err := autograd.AddScalar(e, 1)
	if err != nil {
		return nil, err
	}
	return autograd.Log(onePlusE)
}
