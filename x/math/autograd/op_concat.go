package autograd

import "github.com/nanoforge/nanoforge/x/math/tensor"

type concatOp struct {
	axis  int
	sizes []int
}

func (o *concatOp) Name() string { return "Concat" }
func (o *concatOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.sizes = make([]int, len(in))
	for i, a := range in {
		ax, err := a.Shape().Axis(o.axis)
		if err != nil {
			return tensor.Array{}, err
		}
		o.sizes[i] = a.Shape()[ax]
	}
	return tensor.Concat(o.axis, in...)
}
func (o *concatOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	return tensor.Split(gradOut, o.axis, o.sizes)
}

// Concat joins variables along axis.
func Concat(axis int, vars ...*Variable) (*Variable, error) {
	return apply(&concatOp{axis: axis}, vars...)
}
