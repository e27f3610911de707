package tensor

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// reducedShape computes the output shape of a reduction over the given axes.
// When keepDims is true, reduced axes become size-1 instead of being
// removed.
func reducedShape(shape types.Shape, axes []int, keepDims bool) types.Shape {
	reduce := make(map[int]bool, len(axes))
	for _, ax := range axes {
		reduce[ax] = true
	}
	out := make(types.Shape, 0, len(shape))
	for i, d := range shape {
		if reduce[i] {
			if keepDims {
				out = append(out, 1)
			}
			continue
		}
		out = append(out, d)
	}
	return out
}

// normalizeAxes resolves a possibly-nil, possibly-negative axis list against
// shape's rank. A nil list means "reduce over every axis".
func normalizeAxes(shape types.Shape, axes []int) ([]int, error) {
	if axes == nil {
		out := make([]int, shape.Rank())
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, len(axes))
	for i, ax := range axes {
		a, err := shape.Axis(ax)
		if err != nil {
			return nil, fmt.Errorf("tensor.reduce: %w", err)
		}
		out[i] = a
	}
	return out, nil
}

// reduceWalk walks every element of a and groups them by the index they
// map to in the reduced (keepDims=true) shape, invoking accumulate for
// each source element in turn. seed initializes each output slot.
func reduceWalk(a Array, axes []int, seed float32, accumulate func(acc, v float32) float32) Array {
	keptShape := reducedShape(a.shape, axes, true)
	out := Full(keptShape, seed)
	isReduced := make(map[int]bool, len(axes))
	for _, ax := range axes {
		isReduced[ax] = true
	}
	for i, idx := range elementIndices(a.shape) {
		outIdx := make([]int, len(idx))
		for d, v := range idx {
			if isReduced[d] {
				outIdx[d] = 0
			} else {
				outIdx[d] = v
			}
		}
		outOff := 0
		stride := 1
		for d := len(keptShape) - 1; d >= 0; d-- {
			outOff += outIdx[d] * stride
			stride *= keptShape[d]
		}
		out.data[outOff] = accumulate(out.data[outOff], a.data[i])
	}
	return out
}

// Sum reduces a over the given axes (nil means every axis), optionally
// keeping the reduced axes as size-1 dims.
func Sum(a Array, axes []int, keepDims bool) (Array, error) {
	ax, err := normalizeAxes(a.shape, axes)
	if err != nil {
		return Array{}, err
	}
	out := reduceWalk(a, ax, 0, func(acc, v float32) float32 { return acc + v })
	if !keepDims {
		out.shape = reducedShape(a.shape, ax, false)
	}
	return out, nil
}

// Mean reduces a over the given axes by averaging.
func Mean(a Array, axes []int, keepDims bool) (Array, error) {
	ax, err := normalizeAxes(a.shape, axes)
	if err != nil {
		return Array{}, err
	}
	count := 1
	for _, d := range ax {
		count *= a.shape[d]
	}
	out, err := Sum(a, axes, keepDims)
	if err != nil {
		return Array{}, err
	}
	ScaleInPlace(out, 1/float32(count))
	return out, nil
}

// Max reduces a over the given axes by element-wise maximum.
func Max(a Array, axes []int, keepDims bool) (Array, error) {
	ax, err := normalizeAxes(a.shape, axes)
	if err != nil {
		return Array{}, err
	}
	out := reduceWalk(a, ax, math32.Inf(-1), func(acc, v float32) float32 {
		if v > acc {
			return v
		}
		return acc
	})
	if !keepDims {
		out.shape = reducedShape(a.shape, ax, false)
	}
	return out, nil
}

// Min reduces a over the given axes by element-wise minimum.
func Min(a Array, axes []int, keepDims bool) (Array, error) {
	ax, err := normalizeAxes(a.shape, axes)
	if err != nil {
		return Array{}, err
	}
	out := reduceWalk(a, ax, math32.Inf(1), func(acc, v float32) float32 {
		if v < acc {
			return v
		}
		return acc
	})
	if !keepDims {
		out.shape = reducedShape(a.shape, ax, false)
	}
	return out, nil
}

// Variance reduces a over the given axes computing the biased (population)
// variance, matching the convention used by RMSNorm/LayerNorm.
func Variance(a Array, axes []int, keepDims bool) (Array, error) {
	mean, err := Mean(a, axes, true)
	if err != nil {
		return Array{}, err
	}
	centered, err := Sub(a, mean)
	if err != nil {
		return Array{}, err
	}
	sq := unaryOp(centered, func(x float32) float32 { return x * x })
	return Mean(sq, axes, keepDims)
}

// ArgMax returns the index of the maximum element along axis, as a
// float32-valued Array (consistent with the rest of the kernel, which has
// no integer dtype) with that axis removed.
func ArgMax(a Array, axis int) (Array, error) {
	ax, err := a.shape.Axis(axis)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.ArgMax: %w", err)
	}
	outShape := reducedShape(a.shape, []int{ax}, false)
	out := Zeros(outShape)
	best := Full(outShape, math32.Inf(-1))
	isReduced := map[int]bool{ax: true}
	for i, idx := range elementIndices(a.shape) {
		outIdx := make([]int, 0, len(idx)-1)
		for d, v := range idx {
			if isReduced[d] {
				continue
			}
			outIdx = append(outIdx, v)
		}
		outOff := 0
		stride := 1
		for d := len(outShape) - 1; d >= 0; d-- {
			outOff += outIdx[d] * stride
			stride *= outShape[d]
		}
		if a.data[i] > best.data[outOff] {
			best.data[outOff] = a.data[i]
			out.data[outOff] = float32(idx[ax])
		}
	}
	return out, nil
}
