package tensor

import (
	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// MaskedFill returns a copy of a with elements where mask is non-zero
// (broadcast against a's shape) replaced by value. Used to apply the
// causal mask before softmax.
func MaskedFill(a, mask Array, value float32) (Array, error) {
	out := Zeros(a.shape)
	for i, idx := range elementIndices(a.shape) {
		if mask.data[broadcastIndex(idx, mask.shape)] != 0 {
			out.data[i] = value
		} else {
			out.data[i] = a.data[i]
		}
	}
	return out, nil
}

// Tril returns a rank-2 lower-triangular mask of the given size: 1 on and
// below the diagonal shifted by offset k (k=0 is the main diagonal, k>0
// admits k superdiagonals, k<0 pushes the boundary below the diagonal).
// This is the boolean keep-mask; combine with MaskedFill(scores,
// inverted, -Inf) to build a causal mask, or use CausalMask directly.
func Tril(n, k int) Array {
	out := Zeros(types.NewShape(n, n))
	for i := 0; i < n; i++ {
		for j := 0; j <= i+k && j < n; j++ {
			out.Set(1, i, j)
		}
	}
	return out
}

// CausalMask returns an n x n Array holding 0 where attention is allowed
// (j <= i) and -Inf where it is forbidden (j > i), ready to be added
// directly to attention scores before softmax.
func CausalMask(n int) Array {
	out := Zeros(types.NewShape(n, n))
	negInf := math32.Inf(-1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out.Set(negInf, i, j)
		}
	}
	return out
}
