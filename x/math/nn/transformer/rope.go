package transformer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// RotaryEmbedding precomputes the cos/sin tables for rotary position
// embedding (RoPE) up to maxSeqLen and head_dim, and applies them to
// query/key tensors of shape (batch, heads, seq, head_dim). head_dim must
// be even: RoPE rotates pairs of elements within each head's feature
// vector.
type RotaryEmbedding struct {
	headDim int
	base    float32
	cos     tensor.Array // (maxSeqLen, head_dim)
	sin     tensor.Array // (maxSeqLen, head_dim)
}

// NewRotaryEmbedding builds the cos/sin lookup tables. base is the RoPE
// frequency base (10000 is the standard choice).
func NewRotaryEmbedding(headDim, maxSeqLen int, base float32) (*RotaryEmbedding, error) {
	if headDim%2 != 0 {
		return nil, fmt.Errorf("transformer.NewRotaryEmbedding: %w: head_dim %d must be even", types.ErrConfigValidation, headDim)
	}
	half := headDim / 2
	invFreq := make([]float32, half)
	for i := 0; i < half; i++ {
		invFreq[i] = 1 / math32.Pow(base, float32(2*i)/float32(headDim))
	}
	cos := tensor.Zeros(types.NewShape(maxSeqLen, headDim))
	sin := tensor.Zeros(types.NewShape(maxSeqLen, headDim))
	for pos := 0; pos < maxSeqLen; pos++ {
		for i := 0; i < half; i++ {
			angle := float32(pos) * invFreq[i]
			c, s := math32.Cos(angle), math32.Sin(angle)
			// tiled: [cos(theta_0..theta_{half-1}), cos(theta_0..theta_{half-1})]
			cos.Set(c, pos, i)
			cos.Set(c, pos, i+half)
			sin.Set(s, pos, i)
			sin.Set(s, pos, i+half)
		}
	}
	return &RotaryEmbedding{headDim: headDim, base: base, cos: cos, sin: sin}, nil
}

// Apply returns x (batch, heads, seq, head_dim) rotated with the tables
// for positions [posOffset, posOffset+seq); x itself is not modified.
// posOffset lets KV-cache
// decoding rotate a single new token at its true absolute position.
func (r *RotaryEmbedding) Apply(x *autograd.Variable, posOffset int) (*autograd.Variable, error) {
	shape := x.Shape()
	rank := shape.Rank()
	if shape[rank-1] != r.headDim {
		return nil, fmt.Errorf("transformer.RotaryEmbedding.Apply: %w: last dim %d does not match head_dim %d",
			types.ErrShapeMismatch, shape[rank-1], r.headDim)
	}
	seq := shape[rank-2]
	if posOffset+seq > r.cos.Shape()[0] {
		return nil, fmt.Errorf("transformer.RotaryEmbedding.Apply: %w: position %d exceeds precomputed table of length %d",
			types.ErrInvalidArgument, posOffset+seq, r.cos.Shape()[0])
	}
	cosSlice, err := tensor.IndexSelect(r.cos, 0, rangeInts(posOffset, seq))
	if err != nil {
		return nil, err
	}
	sinSlice, err := tensor.IndexSelect(r.sin, 0, rangeInts(posOffset, seq))
	if err != nil {
		return nil, err
	}
	broadcastShape := make(types.Shape, rank)
	for i := 0; i < rank-2; i++ {
		broadcastShape[i] = 1
	}
	broadcastShape[rank-2] = seq
	broadcastShape[rank-1] = r.headDim
	cosSlice, err = tensor.Reshape(cosSlice, broadcastShape)
	if err != nil {
		return nil, err
	}
	sinSlice, err = tensor.Reshape(sinSlice, broadcastShape)
	if err != nil {
		return nil, err
	}
	cosVar := autograd.New(cosSlice, false)
	sinVar := autograd.New(sinSlice, false)

	rotated, err := rotateHalf(x)
	if err != nil {
		return nil, err
	}
	xCos, err := autograd.Mul(x, cosVar)
	if err != nil {
		return nil, err
	}
	rotSin, err := autograd.Mul(rotated, sinVar)
	if err != nil {
		return nil, err
	}
	return autograd.Add(xCos, rotSin)
}

// rotateHalf implements RoPE's rotate_half(x) = concat(-x2, x1), where x1
// and x2 are the first and second halves of the last axis.
func rotateHalf(x *autograd.Variable) (*autograd.Variable, error) {
	shape := x.Shape()
	half := shape[shape.Rank()-1] / 2
	halves, err := splitLastAxis(x, half)
	if err != nil {
		return nil, err
	}
	x1, x2 := halves[0], halves[1]
	negX2, err := autograd.Neg(x2)
	if err != nil {
		return nil, err
	}
	return autograd.Concat(shape.Rank()-1, negX2, x1)
}

func splitLastAxis(x *autograd.Variable, half int) ([]*autograd.Variable, error) {
	axis := x.Shape().Rank() - 1
	first, err := autograd.Slice(x, axis, 0, half)
	if err != nil {
		return nil, err
	}
	second, err := autograd.Slice(x, axis, half, 2*half)
	if err != nil {
		return nil, err
	}
	return []*autograd.Variable{first, second}, nil
}

func rangeInts(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}
