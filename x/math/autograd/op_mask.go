package autograd

import "github.com/nanoforge/nanoforge/x/math/tensor"

// maskedFillOp replaces elements selected by a non-zero mask with a fixed
// value. Its gradient never flows into the filled positions (the replaced
// value does not depend on the input there) and never flows into the
// mask (it is a boolean selector, not a differentiable input).
type maskedFillOp struct {
	fillValue float32
	mask      tensor.Array
}

func (o *maskedFillOp) Name() string { return "MaskedFill" }
func (o *maskedFillOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.mask = in[1]
	return tensor.MaskedFill(in[0], in[1], o.fillValue)
}
func (o *maskedFillOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	masked, err := tensor.MaskedFill(gradOut, o.mask, 0)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{masked, tensor.Zeros(o.mask.Shape())}, nil
}

// MaskedFill replaces elements of v where mask is non-zero with value
// (e.g. applying the causal mask with value = -Inf before softmax).
func MaskedFill(v, mask *Variable, value float32) (*Variable, error) {
	return apply(&maskedFillOp{fillValue: value}, v, mask)
}

// Greater compares a > b element-wise, producing a 0/1 mask. Comparison
// outputs are not differentiable, so the result is a detached leaf: no
// gradient ever flows back through it.
func Greater(a, b *Variable) (*Variable, error) {
	out, err := tensor.Greater(a.Value, b.Value)
	if err != nil {
		return nil, err
	}
	return New(out, false), nil
}

// Less compares a < b element-wise; detached like Greater.
func Less(a, b *Variable) (*Variable, error) {
	out, err := tensor.Less(a.Value, b.Value)
	if err != nil {
		return nil, err
	}
	return New(out, false), nil
}

// Eq compares a == b element-wise; detached like Greater.
func Eq(a, b *Variable) (*Variable, error) {
	out, err := tensor.Eq(a.Value, b.Value)
	if err != nil {
		return nil, err
	}
	return New(out, false), nil
}
