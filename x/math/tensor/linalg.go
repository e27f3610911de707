package tensor

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// MatMul computes the matrix product of a and b. Both operands must have
// rank >= 2; leading dimensions beyond the trailing two are treated as
// batch dimensions and broadcast against each other NumPy-style (as with
// torch.matmul / np.matmul), e.g. [heads, seq, dim] @ [heads, dim, seq].
func MatMul(a, b Array) (Array, error) {
	if a.Rank() < 2 || b.Rank() < 2 {
		return Array{}, fmt.Errorf("tensor.MatMul: %w: operands must have rank >= 2, got %v and %v",
			types.ErrShapeMismatch, a.shape, b.shape)
	}
	m, ka := a.shape[a.Rank()-2], a.shape[a.Rank()-1]
	kb, n := b.shape[b.Rank()-2], b.shape[b.Rank()-1]
	if ka != kb {
		return Array{}, fmt.Errorf("tensor.MatMul: %w: inner dimensions %d and %d do not match", types.ErrShapeMismatch, ka, kb)
	}
	batchA := a.shape[:a.Rank()-2]
	batchB := b.shape[:b.Rank()-2]
	batchShape, err := types.BroadcastShapes(batchA, batchB)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.MatMul: %w", err)
	}
	outShape := append(batchShape.Clone(), m, n)
	out := Zeros(outShape)

	batchSize := batchShape.Size()
	batches := elementIndices(batchShape)
	aMat := m * ka
	bMat := kb * n
	oMat := m * n
	for bi := 0; bi < batchSize; bi++ {
		aOff := broadcastIndex(batches[bi], batchA) * aMat
		bOff := broadcastIndex(batches[bi], batchB) * bMat
		oOff := bi * oMat
		for i := 0; i < m; i++ {
			for k := 0; k < ka; k++ {
				av := a.data[aOff+i*ka+k]
				if av == 0 {
					continue
				}
				rowB := bOff + k*n
				rowO := oOff + i*n
				for j := 0; j < n; j++ {
					out.data[rowO+j] += av * b.data[rowB+j]
				}
			}
		}
	}
	return out, nil
}

// Transpose reverses (or permutes, given explicit axes) the dimensions of
// a, returning a freshly-allocated, contiguous result.
func Transpose(a Array, axes ...int) (Array, error) {
	rank := a.Rank()
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		return Array{}, fmt.Errorf("tensor.Transpose: %w: expected %d axes, got %d", types.ErrShapeMismatch, rank, len(axes))
	}
	seen := make([]bool, rank)
	newShape := make(types.Shape, rank)
	for i, ax := range axes {
		a2, err := a.shape.Axis(ax)
		if err != nil {
			return Array{}, fmt.Errorf("tensor.Transpose: %w", err)
		}
		if seen[a2] {
			return Array{}, fmt.Errorf("tensor.Transpose: %w: axis %d repeated", types.ErrInvalidArgument, a2)
		}
		seen[a2] = true
		axes[i] = a2
		newShape[i] = a.shape[a2]
	}
	out := Zeros(newShape)
	for i, idx := range elementIndices(a.shape) {
		permuted := make([]int, rank)
		for d, ax := range axes {
			permuted[d] = idx[ax]
		}
		off := 0
		stride := 1
		for d := rank - 1; d >= 0; d-- {
			off += permuted[d] * stride
			stride *= newShape[d]
		}
		out.data[off] = a.data[i]
	}
	return out, nil
}
