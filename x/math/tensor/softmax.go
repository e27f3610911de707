package tensor

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Softmax computes the softmax of a along axis. Rows that are entirely
// -Inf (fully masked, as produced by CausalMask on a padding-only row)
// are NaN-safe: LogSoftmax handles that case explicitly; Softmax derives
// from it via Exp, so a fully-masked row comes out as all-zero rather
// than NaN.
func Softmax(a Array, axis int) (Array, error) {
	ls, err := LogSoftmax(a, axis)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.Softmax: %w", err)
	}
	return Exp(ls), nil
}

// LogSoftmax computes log(softmax(a)) along axis using the standard
// max-subtraction for numerical stability. A row whose max is -Inf (every
// entry masked out) is defined to be all -Inf rather than NaN, so a
// fully-masked row contributes exactly 0 to a subsequent masked-mean loss
// instead of poisoning it.
func LogSoftmax(a Array, axis int) (Array, error) {
	ax, err := a.shape.Axis(axis)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.LogSoftmax: %w", err)
	}
	rowMax, err := Max(a, []int{ax}, true)
	if err != nil {
		return Array{}, err
	}
	out := Zeros(a.shape)
	for i, idx := range elementIndices(a.shape) {
		maxIdx := make([]int, len(idx))
		copy(maxIdx, idx)
		maxIdx[ax] = 0
		maxOff := 0
		stride := 1
		for d := len(rowMax.shape) - 1; d >= 0; d-- {
			maxOff += maxIdx[d] * stride
			stride *= rowMax.shape[d]
		}
		m := rowMax.data[maxOff]
		if math32.IsInf(m, -1) {
			out.data[i] = m
		} else {
			out.data[i] = a.data[i] - m
		}
	}

	sumExp, err := Sum(unaryOp(out, expOrZeroAtNegInf), []int{ax}, true)
	if err != nil {
		return Array{}, err
	}
	logSum := unaryOp(sumExp, func(x float32) float32 {
		if x <= 0 {
			return 0
		}
		return math32.Log(x)
	})
	for i, idx := range elementIndices(out.shape) {
		if math32.IsInf(out.data[i], -1) {
			continue
		}
		sumIdx := make([]int, len(idx))
		copy(sumIdx, idx)
		sumIdx[ax] = 0
		sumOff := 0
		stride := 1
		for d := len(logSum.shape) - 1; d >= 0; d-- {
			sumOff += sumIdx[d] * stride
			stride *= logSum.shape[d]
		}
		out.data[i] -= logSum.data[sumOff]
	}
	return out, nil
}

func expOrZeroAtNegInf(x float32) float32 {
	if math32.IsInf(x, -1) {
		return 0
	}
	return math32.Exp(x)
}
