package tensor_test

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

func TestAddBroadcasts(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2, 3, 4, 5, 6}, types.NewShape(2, 3))
	b := tensor.MustFromFlat([]float32{10, 20, 30}, types.NewShape(3))

	out, err := tensor.Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(2, 3), out.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.Data())
}

func TestAddShapeMismatch(t *testing.T) {
	a := tensor.Zeros(types.NewShape(2, 3))
	b := tensor.Zeros(types.NewShape(4))
	_, err := tensor.Add(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrShapeMismatch)
}

func TestMatMul(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2, 3, 4}, types.NewShape(2, 2))
	b := tensor.MustFromFlat([]float32{5, 6, 7, 8}, types.NewShape(2, 2))
	out, err := tensor.MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{19, 22, 43, 50}, out.Data())
}

func TestMatMulBatched(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2, 3, 4, 5, 6, 7, 8}, types.NewShape(2, 2, 2))
	b := tensor.MustFromFlat([]float32{1, 0, 0, 1}, types.NewShape(2, 2))
	out, err := tensor.MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(2, 2, 2), out.Shape())
	assert.Equal(t, a.Data(), out.Data())
}

func TestReshapeInfersDimension(t *testing.T) {
	a := tensor.Zeros(types.NewShape(2, 3, 4))
	out, err := tensor.Reshape(a, types.NewShape(6, -1))
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(6, 4), out.Shape())
}

func TestTransposeSwapsAxes(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2, 3, 4, 5, 6}, types.NewShape(2, 3))
	out, err := tensor.Transpose(a)
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(3, 2), out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Data())
}

func TestSumAxisKeepDims(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2, 3, 4, 5, 6}, types.NewShape(2, 3))
	sum, err := tensor.Sum(a, []int{1}, true)
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(2, 1), sum.Shape())
	assert.Equal(t, []float32{6, 15}, sum.Data())
}

func TestMeanAllAxes(t *testing.T) {
	a := tensor.MustFromFlat([]float32{2, 4, 6, 8}, types.NewShape(2, 2))
	mean, err := tensor.Mean(a, nil, false)
	require.NoError(t, err)
	assert.InDelta(t, float32(5), mean.Data()[0], 1e-6)
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2, 3, 1, 1, 1}, types.NewShape(2, 3))
	sm, err := tensor.Softmax(a, -1)
	require.NoError(t, err)
	sums, err := tensor.Sum(sm, []int{-1}, false)
	require.NoError(t, err)
	for _, v := range sums.Data() {
		assert.InDelta(t, float32(1), v, 1e-5)
	}
}

func TestLogSoftmaxFullyMaskedRowIsNegInfNotNaN(t *testing.T) {
	neg := float32(-1e30)
	negInf := math32.Inf(-1)
	a := tensor.MustFromFlat([]float32{neg, neg, neg, negInf, negInf, negInf}, types.NewShape(2, 3))
	ls, err := tensor.LogSoftmax(a, -1)
	require.NoError(t, err)
	for _, v := range ls.Data() {
		assert.False(t, v != v, "expected no NaN in fully-masked row")
	}
	for _, v := range ls.Data()[3:] {
		assert.True(t, math32.IsInf(v, -1), "expected -Inf in a row that is entirely -Inf")
	}
}

func TestCausalMaskBlocksFuture(t *testing.T) {
	m := tensor.CausalMask(3)
	assert.Equal(t, float32(0), m.At(0, 0))
	assert.True(t, m.At(0, 1) < -1e30)
	assert.Equal(t, float32(0), m.At(2, 0))
}

func TestIndexSelectGathersRows(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2, 3, 4, 5, 6}, types.NewShape(3, 2))
	out, err := tensor.IndexSelect(a, 0, []int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 1, 2}, out.Data())
}

func TestRepeatTilesAlongAxis(t *testing.T) {
	a := tensor.MustFromFlat([]float32{1, 2}, types.NewShape(1, 2))
	out, err := tensor.Repeat(a, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(3, 2), out.Shape())
	assert.Equal(t, []float32{1, 2, 1, 2, 1, 2}, out.Data())
}

func TestSoftmaxFullyMaskedRowIsAllZeros(t *testing.T) {
	negInf := math32.Inf(-1)
	a := tensor.MustFromFlat([]float32{negInf, negInf, negInf, 1, 2, 3}, types.NewShape(2, 3))
	sm, err := tensor.Softmax(a, -1)
	require.NoError(t, err)
	for _, v := range sm.Data()[:3] {
		assert.Equal(t, float32(0), v)
	}
	var sum float32
	for _, v := range sm.Data()[3:] {
		sum += v
	}
	assert.InDelta(t, float32(1), sum, 1e-5)
}

func TestLogSoftmaxEqualsInputMinusLogSumExp(t *testing.T) {
	a := tensor.MustFromFlat([]float32{0.3, -1.2, 2.1, 0.5, 0.4, -0.7, 1.1, -2.2}, types.NewShape(2, 4))
	ls, err := tensor.LogSoftmax(a, -1)
	require.NoError(t, err)

	data := a.Data()
	for row := 0; row < 2; row++ {
		var sumExp float32
		for col := 0; col < 4; col++ {
			sumExp += math32.Exp(data[row*4+col])
		}
		lse := math32.Log(sumExp)
		for col := 0; col < 4; col++ {
			assert.InDelta(t, data[row*4+col]-lse, ls.Data()[row*4+col], 1e-5)
		}
	}
}

func TestTrilOffsetShiftsDiagonal(t *testing.T) {
	m := tensor.Tril(3, 0)
	assert.Equal(t, float32(1), m.At(1, 1))
	assert.Equal(t, float32(0), m.At(0, 1))

	shifted := tensor.Tril(3, 1)
	assert.Equal(t, float32(1), shifted.At(0, 1))
	assert.Equal(t, float32(0), shifted.At(0, 2))
}
