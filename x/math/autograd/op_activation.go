package autograd

import "github.com/nanoforge/nanoforge/x/math/tensor"

type expOp struct{ output tensor.Array }

func (o *expOp) Name() string { return "Exp" }
func (o *expOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.output = tensor.Exp(in[0])
	return o.output, nil
}
func (o *expOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g, err := tensor.Mul(gradOut, o.output)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Exp applies e^x element-wise.
func Exp(v *Variable) (*Variable, error) { return apply(&expOp{}, v) }

type logOp struct{ input tensor.Array }

func (o *logOp) Name() string { return "Log" }
func (o *logOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.input = in[0]
	return tensor.Log(in[0]), nil
}
func (o *logOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g, err := tensor.Div(gradOut, o.input)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Log applies natural log element-wise.
func Log(v *Variable) (*Variable, error) { return apply(&logOp{}, v) }

type sqrtOp struct{ output tensor.Array }

func (o *sqrtOp) Name() string { return "Sqrt" }
func (o *sqrtOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.output = tensor.Sqrt(in[0])
	return o.output, nil
}
func (o *sqrtOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	twice := tensor.Scale(o.output, 2)
	g, err := tensor.Div(gradOut, twice)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Sqrt applies square root element-wise.
func Sqrt(v *Variable) (*Variable, error) { return apply(&sqrtOp{}, v) }

type tanhOp struct{ output tensor.Array }

func (o *tanhOp) Name() string { return "Tanh" }
func (o *tanhOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.output = tensor.Tanh(in[0])
	return o.output, nil
}
func (o *tanhOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	ySq, err := tensor.Mul(o.output, o.output)
	if err != nil {
		return nil, err
	}
	oneMinus := tensor.AddScalar(tensor.Neg(ySq), 1)
	g, err := tensor.Mul(gradOut, oneMinus)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Tanh applies the hyperbolic tangent element-wise.
func Tanh(v *Variable) (*Variable, error) { return apply(&tanhOp{}, v) }

type sigmoidOp struct{ output tensor.Array }

func (o *sigmoidOp) Name() string { return "Sigmoid" }
func (o *sigmoidOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.output = tensor.Sigmoid(in[0])
	return o.output, nil
}
func (o *sigmoidOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	oneMinusY := tensor.AddScalar(tensor.Neg(o.output), 1)
	deriv, err := tensor.Mul(o.output, oneMinusY)
	if err != nil {
		return nil, err
	}
	g, err := tensor.Mul(gradOut, deriv)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Sigmoid applies the logistic sigmoid element-wise.
func Sigmoid(v *Variable) (*Variable, error) { return apply(&sigmoidOp{}, v) }

type powOp struct {
	exponent float32
	input    tensor.Array
}

func (o *powOp) Name() string { return "Pow" }
func (o *powOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.input = in[0]
	return tensor.Pow(in[0], o.exponent), nil
}
func (o *powOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	deriv := tensor.Scale(tensor.Pow(o.input, o.exponent-1), o.exponent)
	g, err := tensor.Mul(gradOut, deriv)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Pow raises v to the given scalar exponent element-wise.
func Pow(v *Variable, exponent float32) (*Variable, error) {
	return apply(&powOp{exponent: exponent}, v)
}

type scaleOp struct{ s float32 }

func (o *scaleOp) Name() string { return "Scale" }
func (o *scaleOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	return tensor.Scale(in[0], o.s), nil
}
func (o *scaleOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	return []tensor.Array{tensor.Scale(gradOut, o.s)}, nil
}

// Scale multiplies v by a constant scalar.
func Scale(v *Variable, s float32) (*Variable, error) { return apply(&scaleOp{s: s}, v) }

type addScalarOp struct{ s float32 }

func (o *addScalarOp) Name() string { return "AddScalar" }
func (o *addScalarOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	return tensor.AddScalar(in[0], o.s), nil
}
func (o *addScalarOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	return []tensor.Array{gradOut}, nil
}

// AddScalar adds a constant scalar to every element of v.
func AddScalar(v *Variable, s float32) (*Variable, error) { return apply(&addScalarOp{s: s}, v) }

type reluOp struct{ input tensor.Array }

func (o *reluOp) Name() string { return "ReLU" }
func (o *reluOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.input = in[0]
	return tensor.ReLU(in[0]), nil
}
func (o *reluOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	data := o.input.Data()
	gData := gradOut.Data()
	out := tensor.Zeros(gradOut.Shape())
	outData := out.Data()
	for i, x := range data {
		if x > 0 {
			outData[i] = gData[i]
		}
	}
	return []tensor.Array{out}, nil
}

// ReLU clamps negative elements of v to zero, tracked for
// backpropagation.
func ReLU(v *Variable) (*Variable, error) { return apply(&reluOp{}, v) }

type clipOp struct {
	lo, hi float32
	input  tensor.Array
}

func (o *clipOp) Name() string { return "Clip" }
func (o *clipOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.input = in[0]
	return tensor.Clip(in[0], o.lo, o.hi), nil
}

// Backward passes the gradient through unchanged wherever the input was
// inside [lo, hi], and zero wherever it was clamped; the PPO-style
// clipped surrogate relies on exactly this derivative to cut off the
// gradient contribution once the clip range is exceeded.
func (o *clipOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	data := o.input.Data()
	gData := gradOut.Data()
	out := tensor.Zeros(gradOut.Shape())
	outData := out.Data()
	for i, x := range data {
		if x >= o.lo && x <= o.hi {
			outData[i] = gData[i]
		}
	}
	return []tensor.Array{out}, nil
}

// Clip clamps every element of v into [lo, hi], tracked for
// backpropagation.
func Clip(v *Variable, lo, hi float32) (*Variable, error) { return apply(&clipOp{lo: lo, hi: hi}, v) }
