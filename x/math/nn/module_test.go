package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// linear is a minimal two-parameter layer used only to exercise the
// Module/Layer plumbing in isolation from any real transformer component.
type linear struct {
	nn.Module
	Weight *autograd.Variable
	Bias   *autograd.Variable
}

func newLinear() *linear {
	l := &linear{}
	l.Init()
	l.Weight = l.RegisterParameter("weight", autograd.New(tensor.Zeros(types.NewShape(2, 2)), false))
	l.Bias = l.RegisterParameter("bias", autograd.New(tensor.Zeros(types.NewShape(2)), false))
	return l
}

type block struct {
	nn.Module
	First  *linear
	Second *linear
}

func newBlock() *block {
	b := &block{}
	b.Init()
	b.First = b.RegisterModule("first", newLinear()).(*linear)
	b.Second = b.RegisterModule("second", newLinear()).(*linear)
	return b
}

func TestNamedParametersDepthFirstInsertionOrder(t *testing.T) {
	b := newBlock()
	names := make([]string, 0)
	for _, np := range nn.NamedParameters(b) {
		names = append(names, np.Name)
	}
	assert.Equal(t, []string{
		"first.weight", "first.bias", "second.weight", "second.bias",
	}, names)
}

func TestRegisterParameterSetsRequiresGrad(t *testing.T) {
	l := newLinear()
	assert.True(t, l.Weight.RequiresGrad())
}

func TestRegisterParameterTwiceUnderSameNamePanics(t *testing.T) {
	l := &linear{}
	l.Init()
	l.RegisterParameter("weight", autograd.New(tensor.Zeros(types.NewShape(2, 2)), false))
	assert.Panics(t, func() {
		l.RegisterParameter("weight", autograd.New(tensor.Zeros(types.NewShape(2, 2)), false))
	})
}

func TestTrainEvalPropagateToSubmodules(t *testing.T) {
	b := newBlock()
	nn.Eval(b)
	assert.False(t, b.First.IsTraining())
	assert.False(t, b.Second.IsTraining())
	nn.Train(b)
	assert.True(t, b.First.IsTraining())
}

func TestClearGradsDropsAccumulatedGradients(t *testing.T) {
	b := newBlock()
	g := tensor.Ones(types.NewShape(2, 2))
	b.First.Weight.SetGrad(g)
	require.NotNil(t, b.First.Weight.Grad)
	nn.ClearGrads(b)
	assert.Nil(t, b.First.Weight.Grad)
}
