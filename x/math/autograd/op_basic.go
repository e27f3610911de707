package autograd

import "github.com/nanoforge/nanoforge/x/math/tensor"

// addOp implements element-wise addition with broadcasting. Its backward
// rule sums the incoming gradient back down to each operand's original
// shape, since forward may have broadcast either one up.
type addOp struct{ aShape, bShape []int }

func (o *addOp) Name() string { return "Add" }
func (o *addOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.aShape, o.bShape = in[0].Shape(), in[1].Shape()
	return tensor.Add(in[0], in[1])
}
func (o *addOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	ga, err := unbroadcast(gradOut, o.aShape)
	if err != nil {
		return nil, err
	}
	gb, err := unbroadcast(gradOut, o.bShape)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{ga, gb}, nil
}

// Add computes a + b with broadcasting, tracked for backpropagation.
func Add(a, b *Variable) (*Variable, error) { return apply(&addOp{}, a, b) }

type subOp struct{ aShape, bShape []int }

func (o *subOp) Name() string { return "Sub" }
func (o *subOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.aShape, o.bShape = in[0].Shape(), in[1].Shape()
	return tensor.Sub(in[0], in[1])
}
func (o *subOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	ga, err := unbroadcast(gradOut, o.aShape)
	if err != nil {
		return nil, err
	}
	gb, err := unbroadcast(tensor.Neg(gradOut), o.bShape)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{ga, gb}, nil
}

// Sub computes a - b with broadcasting, tracked for backpropagation.
func Sub(a, b *Variable) (*Variable, error) { return apply(&subOp{}, a, b) }

type mulOp struct{ a, b tensor.Array }

func (o *mulOp) Name() string { return "Mul" }
func (o *mulOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.a, o.b = in[0], in[1]
	return tensor.Mul(in[0], in[1])
}
func (o *mulOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	gaFull, err := tensor.Mul(gradOut, o.b)
	if err != nil {
		return nil, err
	}
	gbFull, err := tensor.Mul(gradOut, o.a)
	if err != nil {
		return nil, err
	}
	ga, err := unbroadcast(gaFull, o.a.Shape())
	if err != nil {
		return nil, err
	}
	gb, err := unbroadcast(gbFull, o.b.Shape())
	if err != nil {
		return nil, err
	}
	return []tensor.Array{ga, gb}, nil
}

// Mul computes the element-wise product a * b with broadcasting.
func Mul(a, b *Variable) (*Variable, error) { return apply(&mulOp{}, a, b) }

type divOp struct{ a, b tensor.Array }

func (o *divOp) Name() string { return "Div" }
func (o *divOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.a, o.b = in[0], in[1]
	return tensor.Div(in[0], in[1])
}
func (o *divOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	gaFull, err := tensor.Div(gradOut, o.b)
	if err != nil {
		return nil, err
	}
	// d/db (a/b) = -a / b^2
	bSquared, err := tensor.Mul(o.b, o.b)
	if err != nil {
		return nil, err
	}
	aOverBSq, err := tensor.Div(o.a, bSquared)
	if err != nil {
		return nil, err
	}
	gbFull, err := tensor.Mul(gradOut, tensor.Neg(aOverBSq))
	if err != nil {
		return nil, err
	}
	ga, err := unbroadcast(gaFull, o.a.Shape())
	if err != nil {
		return nil, err
	}
	gb, err := unbroadcast(gbFull, o.b.Shape())
	if err != nil {
		return nil, err
	}
	return []tensor.Array{ga, gb}, nil
}

// Div computes the element-wise quotient a / b with broadcasting.
func Div(a, b *Variable) (*Variable, error) { return apply(&divOp{}, a, b) }

type negOp struct{}

func (o *negOp) Name() string                                   { return "Neg" }
func (o *negOp) Forward(in ...tensor.Array) (tensor.Array, error) { return tensor.Neg(in[0]), nil }
func (o *negOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	return []tensor.Array{tensor.Neg(gradOut)}, nil
}

// Neg negates v, tracked for backpropagation.
func Neg(v *Variable) (*Variable, error) { return apply(&negOp{}, v) }

type matMulOp struct{ a, b tensor.Array }

func (o *matMulOp) Name() string { return "MatMul" }
func (o *matMulOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.a, o.b = in[0], in[1]
	return tensor.MatMul(in[0], in[1])
}
func (o *matMulOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	bT, err := swapLastTwo(o.b)
	if err != nil {
		return nil, err
	}
	gaFull, err := tensor.MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}
	aT, err := swapLastTwo(o.a)
	if err != nil {
		return nil, err
	}
	gbFull, err := tensor.MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	ga, err := unbroadcastBatch(gaFull, o.a.Shape())
	if err != nil {
		return nil, err
	}
	gb, err := unbroadcastBatch(gbFull, o.b.Shape())
	if err != nil {
		return nil, err
	}
	return []tensor.Array{ga, gb}, nil
}

// MatMul computes the (possibly batched) matrix product a @ b.
func MatMul(a, b *Variable) (*Variable, error) { return apply(&matMulOp{}, a, b) }

// swapLastTwo transposes only the trailing two (matrix) axes, leaving
// batch axes in place — the transpose MatMul's backward rule needs.
func swapLastTwo(a tensor.Array) (tensor.Array, error) {
	rank := a.Shape().Rank()
	axes := make([]int, rank)
	for i := range axes {
		axes[i] = i
	}
	axes[rank-2], axes[rank-1] = axes[rank-1], axes[rank-2]
	return tensor.Transpose(a, axes...)
}

type minimumOp struct{ a, b tensor.Array }

func (o *minimumOp) Name() string { return "Minimum" }
func (o *minimumOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.a, o.b = in[0], in[1]
	return tensor.Minimum(in[0], in[1])
}

// Backward routes the incoming gradient to whichever operand produced the
// minimum at each position (ties favor a); the other operand gets zero,
// the usual subgradient convention for min.
func (o *minimumOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	aB, err := tensor.BroadcastTo(o.a, gradOut.Shape())
	if err != nil {
		return nil, err
	}
	bB, err := tensor.BroadcastTo(o.b, gradOut.Shape())
	if err != nil {
		return nil, err
	}
	gaFull := tensor.Zeros(gradOut.Shape())
	gbFull := tensor.Zeros(gradOut.Shape())
	aData, bData, gData := aB.Data(), bB.Data(), gradOut.Data()
	gaData, gbData := gaFull.Data(), gbFull.Data()
	for i := range gData {
		if aData[i] <= bData[i] {
			gaData[i] = gData[i]
		} else {
			gbData[i] = gData[i]
		}
	}
	ga, err := unbroadcast(gaFull, o.a.Shape())
	if err != nil {
		return nil, err
	}
	gb, err := unbroadcast(gbFull, o.b.Shape())
	if err != nil {
		return nil, err
	}
	return []tensor.Array{ga, gb}, nil
}

// Minimum computes the element-wise minimum of a and b with
// broadcasting, used by the GRPO clipped surrogate.
func Minimum(a, b *Variable) (*Variable, error) { return apply(&minimumOp{}, a, b) }

// unbroadcast sums gradOut down to targetShape by reducing over every
// axis that forward broadcast up from size 1 (or that targetShape lacks
// entirely, i.e. leading axes).
func unbroadcast(gradOut tensor.Array, targetShape []int) (tensor.Array, error) {
	outShape := gradOut.Shape()
	rankDiff := len(outShape) - len(targetShape)
	axes := make([]int, 0, rankDiff)
	for i := 0; i < rankDiff; i++ {
		axes = append(axes, i)
	}
	for i, d := range targetShape {
		if d == 1 && outShape[rankDiff+i] != 1 {
			axes = append(axes, rankDiff+i)
		}
	}
	if len(axes) == 0 {
		return gradOut, nil
	}
	reduced, err := tensor.Sum(gradOut, axes, true)
	if err != nil {
		return tensor.Array{}, err
	}
	return tensor.Reshape(reduced, targetShape)
}

// unbroadcastBatch is unbroadcast restricted to the leading (batch) axes,
// used by MatMul whose trailing two dimensions are never broadcast.
func unbroadcastBatch(gradOut tensor.Array, targetShape []int) (tensor.Array, error) {
	return unbroadcast(gradOut, targetShape)
}
