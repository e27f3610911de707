package tensor

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Concat joins arrays along axis; every other dimension must match
// exactly across all operands.
func Concat(axis int, arrays ...Array) (Array, error) {
	if len(arrays) == 0 {
		return Array{}, fmt.Errorf("tensor.Concat: %w: no arrays given", types.ErrInvalidArgument)
	}
	ax, err := arrays[0].shape.Axis(axis)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.Concat: %w", err)
	}
	outShape := arrays[0].shape.Clone()
	total := 0
	for _, a := range arrays {
		if a.Rank() != len(outShape) {
			return Array{}, fmt.Errorf("tensor.Concat: %w: rank mismatch", types.ErrShapeMismatch)
		}
		for d := 0; d < len(outShape); d++ {
			if d == ax {
				continue
			}
			if a.shape[d] != outShape[d] {
				return Array{}, fmt.Errorf("tensor.Concat: %w: dimension %d mismatch (%d vs %d)",
					types.ErrShapeMismatch, d, a.shape[d], outShape[d])
			}
		}
		total += a.shape[ax]
	}
	outShape[ax] = total
	out := Zeros(outShape)

	offset := 0
	for _, a := range arrays {
		for i, idx := range elementIndices(a.shape) {
			dstIdx := make([]int, len(idx))
			copy(dstIdx, idx)
			dstIdx[ax] += offset
			off := 0
			stride := 1
			for d := len(outShape) - 1; d >= 0; d-- {
				off += dstIdx[d] * stride
				stride *= outShape[d]
			}
			out.data[off] = a.data[i]
		}
		offset += a.shape[ax]
	}
	return out, nil
}

// Split divides a into len(sizes) arrays along axis, each with that size
// along axis (sizes must sum to a.Shape()[axis]).
func Split(a Array, axis int, sizes []int) ([]Array, error) {
	ax, err := a.shape.Axis(axis)
	if err != nil {
		return nil, fmt.Errorf("tensor.Split: %w", err)
	}
	sum := 0
	for _, s := range sizes {
		sum += s
	}
	if sum != a.shape[ax] {
		return nil, fmt.Errorf("tensor.Split: %w: sizes sum to %d, axis has %d", types.ErrShapeMismatch, sum, a.shape[ax])
	}
	out := make([]Array, len(sizes))
	offset := 0
	for i, size := range sizes {
		outShape := a.shape.Clone()
		outShape[ax] = size
		piece := Zeros(outShape)
		for j, idx := range elementIndices(outShape) {
			srcIdx := make([]int, len(idx))
			copy(srcIdx, idx)
			srcIdx[ax] += offset
			off := 0
			stride := 1
			for d := len(a.shape) - 1; d >= 0; d-- {
				off += srcIdx[d] * stride
				stride *= a.shape[d]
			}
			piece.data[j] = a.data[off]
		}
		out[i] = piece
		offset += size
	}
	return out, nil
}
