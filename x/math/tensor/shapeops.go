package tensor

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Permute is an alias of Transpose: it reorders dimensions according to
// axes, without any of NumPy's transpose-without-args row/col-reversal
// special-casing ambiguity.
func Permute(a Array, axes ...int) (Array, error) { return Transpose(a, axes...) }

// Reshape returns a with a new shape of equal size. The returned Array
// shares the backing buffer with a — callers that need an independently
// mutable result should Clone first.
func Reshape(a Array, shape types.Shape) (Array, error) {
	resolved, err := resolveInferredDim(shape, a.Size())
	if err != nil {
		return Array{}, fmt.Errorf("tensor.Reshape: %w", err)
	}
	if resolved.Size() != a.Size() {
		return Array{}, fmt.Errorf("tensor.Reshape: %w: cannot reshape %v (%d elements) into %v (%d elements)",
			types.ErrShapeMismatch, a.shape, a.Size(), resolved, resolved.Size())
	}
	return Array{shape: resolved, data: a.data}, nil
}

// resolveInferredDim replaces at most one -1 entry in shape with the value
// that makes its product equal totalSize.
func resolveInferredDim(shape types.Shape, totalSize int) (types.Shape, error) {
	inferAt := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if inferAt != -1 {
				return nil, fmt.Errorf("%w: at most one dimension may be -1, got %v", types.ErrInvalidArgument, shape)
			}
			inferAt = i
			continue
		}
		known *= d
	}
	if inferAt == -1 {
		return shape.Clone(), nil
	}
	out := shape.Clone()
	if known == 0 || totalSize%known != 0 {
		return nil, fmt.Errorf("%w: cannot infer dimension for shape %v from size %d", types.ErrShapeMismatch, shape, totalSize)
	}
	out[inferAt] = totalSize / known
	return out, nil
}

// Unsqueeze inserts a size-1 dimension at axis (0 <= axis <= rank).
func Unsqueeze(a Array, axis int) (Array, error) {
	rank := a.Rank()
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		return Array{}, fmt.Errorf("tensor.Unsqueeze: %w: axis %d out of range for rank %d", types.ErrShapeMismatch, axis, rank)
	}
	newShape := make(types.Shape, 0, rank+1)
	newShape = append(newShape, a.shape[:axis]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, a.shape[axis:]...)
	return Array{shape: newShape, data: a.data}, nil
}

// Squeeze removes all size-1 dimensions. If axis is non-nil, only that
// dimension is removed (and it is an error if it is not size 1).
func Squeeze(a Array, axis *int) (Array, error) {
	if axis != nil {
		ax, err := a.shape.Axis(*axis)
		if err != nil {
			return Array{}, fmt.Errorf("tensor.Squeeze: %w", err)
		}
		if a.shape[ax] != 1 {
			return Array{}, fmt.Errorf("tensor.Squeeze: %w: axis %d has size %d, not 1", types.ErrShapeMismatch, ax, a.shape[ax])
		}
		newShape := make(types.Shape, 0, a.Rank()-1)
		newShape = append(newShape, a.shape[:ax]...)
		newShape = append(newShape, a.shape[ax+1:]...)
		return Array{shape: newShape, data: a.data}, nil
	}
	newShape := make(types.Shape, 0, a.Rank())
	for _, d := range a.shape {
		if d != 1 {
			newShape = append(newShape, d)
		}
	}
	return Array{shape: newShape, data: a.data}, nil
}

// BroadcastTo expands a to shape using NumPy broadcasting rules, returning
// a freshly-allocated (non-aliased) result.
func BroadcastTo(a Array, shape types.Shape) (Array, error) {
	result, err := types.BroadcastShapes(a.shape, shape)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.BroadcastTo: %w", err)
	}
	if !result.Equal(shape) {
		return Array{}, fmt.Errorf("tensor.BroadcastTo: %w: %v cannot broadcast to requested shape %v", types.ErrShapeMismatch, a.shape, shape)
	}
	out := Zeros(shape)
	for i, idx := range elementIndices(shape) {
		out.data[i] = a.data[broadcastIndex(idx, a.shape)]
	}
	return out, nil
}

// Repeat tiles a along axis count times (e.g. repeating KV heads for
// grouped-query attention).
func Repeat(a Array, axis, count int) (Array, error) {
	ax, err := a.shape.Axis(axis)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.Repeat: %w", err)
	}
	newShape := a.shape.Clone()
	newShape[ax] *= count
	out := Zeros(newShape)
	for i, idx := range elementIndices(newShape) {
		srcIdx := make([]int, len(idx))
		copy(srcIdx, idx)
		srcIdx[ax] = idx[ax] % a.shape[ax]
		off := 0
		stride := 1
		for d := len(a.shape) - 1; d >= 0; d-- {
			off += srcIdx[d] * stride
			stride *= a.shape[d]
		}
		out.data[i] = a.data[off]
	}
	return out, nil
}

// IndexSelect gathers slices of a along axis at the given integer indices
// (e.g. embedding lookup, selecting log-prob of the target token).
func IndexSelect(a Array, axis int, indices []int) (Array, error) {
	ax, err := a.shape.Axis(axis)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.IndexSelect: %w", err)
	}
	newShape := a.shape.Clone()
	newShape[ax] = len(indices)
	out := Zeros(newShape)
	for i, idx := range elementIndices(newShape) {
		srcIdx := make([]int, len(idx))
		copy(srcIdx, idx)
		sel := indices[idx[ax]]
		if sel < 0 {
			sel += a.shape[ax]
		}
		if sel < 0 || sel >= a.shape[ax] {
			return Array{}, fmt.Errorf("tensor.IndexSelect: %w: index %d out of range for axis %d (size %d)",
				types.ErrShapeMismatch, indices[idx[ax]], ax, a.shape[ax])
		}
		srcIdx[ax] = sel
		off := 0
		stride := 1
		for d := len(a.shape) - 1; d >= 0; d-- {
			off += srcIdx[d] * stride
			stride *= a.shape[d]
		}
		out.data[i] = a.data[off]
	}
	return out, nil
}
