package autograd

import "github.com/nanoforge/nanoforge/x/math/tensor"

type softmaxOp struct {
	axis   int
	output tensor.Array
}

func (o *softmaxOp) Name() string { return "Softmax" }
func (o *softmaxOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	out, err := tensor.Softmax(in[0], o.axis)
	if err != nil {
		return tensor.Array{}, err
	}
	o.output = out
	return out, nil
}

// Backward uses the standard softmax Jacobian-vector product:
// dx = y * (dy - sum(dy * y, axis)).
func (o *softmaxOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	dyY, err := tensor.Mul(gradOut, o.output)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Sum(dyY, []int{o.axis}, true)
	if err != nil {
		return nil, err
	}
	diff, err := tensor.Sub(gradOut, sum)
	if err != nil {
		return nil, err
	}
	grad, err := tensor.Mul(o.output, diff)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{grad}, nil
}

// Softmax applies softmax along axis.
func Softmax(v *Variable, axis int) (*Variable, error) {
	return apply(&softmaxOp{axis: axis}, v)
}

type logSoftmaxOp struct {
	axis   int
	output tensor.Array // = log_softmax(x)
}

func (o *logSoftmaxOp) Name() string { return "LogSoftmax" }
func (o *logSoftmaxOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	out, err := tensor.LogSoftmax(in[0], o.axis)
	if err != nil {
		return tensor.Array{}, err
	}
	o.output = out
	return out, nil
}

// Backward uses the log-softmax gradient: dx = dy - softmax(x) * sum(dy, axis).
func (o *logSoftmaxOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	softmax := tensor.Exp(o.output)
	sum, err := tensor.Sum(gradOut, []int{o.axis}, true)
	if err != nil {
		return nil, err
	}
	scaled, err := tensor.Mul(softmax, sum)
	if err != nil {
		return nil, err
	}
	grad, err := tensor.Sub(gradOut, scaled)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{grad}, nil
}

// LogSoftmax applies log-softmax along axis, the numerically stable
// building block for cross-entropy losses.
func LogSoftmax(v *Variable, axis int) (*Variable, error) {
	return apply(&logSoftmaxOp{axis: axis}, v)
}
