package autograd

import (
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

type reshapeOp struct {
	inShape types.Shape
	target  types.Shape
}

func (o *reshapeOp) Name() string { return "Reshape" }
func (o *reshapeOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.inShape = in[0].Shape()
	return tensor.Reshape(in[0], o.target)
}
func (o *reshapeOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g, err := tensor.Reshape(gradOut, o.inShape)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Reshape reinterprets v's shape, keeping the element count fixed. A
// single -1 entry in shape is inferred from the remaining dimensions.
func Reshape(v *Variable, shape types.Shape) (*Variable, error) {
	return apply(&reshapeOp{target: shape}, v)
}

type broadcastOp struct {
	inShape types.Shape
	target  types.Shape
}

func (o *broadcastOp) Name() string { return "BroadcastTo" }
func (o *broadcastOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.inShape = in[0].Shape()
	return tensor.BroadcastTo(in[0], o.target)
}
func (o *broadcastOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g, err := unbroadcast(gradOut, o.inShape)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// BroadcastTo expands v to shape using NumPy broadcasting rules.
func BroadcastTo(v *Variable, shape types.Shape) (*Variable, error) {
	return apply(&broadcastOp{target: shape}, v)
}

type transposeOp struct {
	axes    []int
	inverse []int
}

func (o *transposeOp) Name() string { return "Transpose" }
func (o *transposeOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	rank := in[0].Rank()
	axes := o.axes
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	o.inverse = make([]int, rank)
	for i, ax := range axes {
		o.inverse[ax] = i
	}
	return tensor.Transpose(in[0], axes...)
}
func (o *transposeOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g, err := tensor.Transpose(gradOut, o.inverse...)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Transpose permutes v's dimensions according to axes (default: full
// reversal, matching NumPy's no-argument transpose).
func Transpose(v *Variable, axes ...int) (*Variable, error) {
	return apply(&transposeOp{axes: axes}, v)
}

type unsqueezeOp struct{ axis int }

func (o *unsqueezeOp) Name() string { return "Unsqueeze" }
func (o *unsqueezeOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	return tensor.Unsqueeze(in[0], o.axis)
}
func (o *unsqueezeOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	a := o.axis
	g, err := tensor.Squeeze(gradOut, &a)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Unsqueeze inserts a size-1 dimension at axis.
func Unsqueeze(v *Variable, axis int) (*Variable, error) {
	return apply(&unsqueezeOp{axis: axis}, v)
}

type squeezeOp struct {
	axis    *int
	inShape types.Shape
}

func (o *squeezeOp) Name() string { return "Squeeze" }
func (o *squeezeOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.inShape = in[0].Shape()
	return tensor.Squeeze(in[0], o.axis)
}
func (o *squeezeOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	g, err := tensor.Reshape(gradOut, o.inShape)
	if err != nil {
		return nil, err
	}
	return []tensor.Array{g}, nil
}

// Squeeze removes size-1 dimensions; axis restricts it to one dimension.
func Squeeze(v *Variable, axis *int) (*Variable, error) {
	return apply(&squeezeOp{axis: axis}, v)
}

type indexSelectOp struct {
	axis    int
	indices []int
	inShape types.Shape
}

func (o *indexSelectOp) Name() string { return "IndexSelect" }
func (o *indexSelectOp) Forward(in ...tensor.Array) (tensor.Array, error) {
	o.inShape = in[0].Shape()
	return tensor.IndexSelect(in[0], o.axis, o.indices)
}
func (o *indexSelectOp) Backward(gradOut tensor.Array) ([]tensor.Array, error) {
	ax, err := o.inShape.Axis(o.axis)
	if err != nil {
		return nil, err
	}
	grad := tensor.Zeros(o.inShape)
	for outIdx, srcIdx := range o.indices {
		si := srcIdx
		if si < 0 {
			si += o.inShape[ax]
		}
		if err := scatterAddAlongAxis(grad, gradOut, ax, outIdx, si); err != nil {
			return nil, err
		}
	}
	return []tensor.Array{grad}, nil
}

// Slice selects the contiguous half-open range [start, end) of v along
// axis (e.g. splitting RoPE's rotate_half halves, or separating SwiGLU's
// gate/up projections out of one fused matmul).
func Slice(v *Variable, axis, start, end int) (*Variable, error) {
	indices := make([]int, end-start)
	for i := range indices {
		indices[i] = start + i
	}
	return IndexSelect(v, axis, indices)
}

// IndexSelect gathers slices of v along axis at the given indices (e.g.
// embedding lookup, or selecting the log-probability of the target
// token). Its gradient scatter-adds back to the source positions,
// accumulating correctly when an index is selected more than once.
func IndexSelect(v *Variable, axis int, indices []int) (*Variable, error) {
	return apply(&indexSelectOp{axis: axis, indices: indices}, v)
}

// scatterAddAlongAxis adds the outIdx-th slice of gradOut (along axis) into
// the srcIdx-th slice of dst (along axis), iterating every other
// dimension.
func scatterAddAlongAxis(dst, gradOut tensor.Array, axis, outIdx, srcIdx int) error {
	outShape := gradOut.Shape()
	for _, idx := range allIndices(outShape) {
		if idx[axis] != outIdx {
			continue
		}
		dstIdx := make([]int, len(idx))
		copy(dstIdx, idx)
		dstIdx[axis] = srcIdx
		dst.Set(dst.At(dstIdx...)+gradOut.At(idx...), dstIdx...)
	}
	return nil
}

// allIndices enumerates every multi-dimensional index of shape in
// row-major order; it mirrors the unexported tensor.elementIndices for
// use from backward rules that need per-element scatter.
func allIndices(shape types.Shape) [][]int {
	size := shape.Size()
	rank := shape.Rank()
	out := make([][]int, size)
	idx := make([]int, rank)
	for i := 0; i < size; i++ {
		cur := make([]int, rank)
		copy(cur, idx)
		out[i] = cur
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}
