package moe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/nn/moe"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

func testConfig() moe.Config {
	return moe.Config{
		NumExperts:       4,
		TopK:             2,
		InputDim:         8,
		HiddenDim:        16,
		OutputDim:        8,
		NoiseStd:         1.0,
		RoutingDropout:   0,
		LoadBalanceAlpha: 0.01,
		LoadBalanceBeta:  0.01,
	}
}

func TestConfigValidateRejectsTopKAboveNumExperts(t *testing.T) {
	cfg := testConfig()
	cfg.TopK = cfg.NumExperts + 1
	assert.ErrorIs(t, cfg.Validate(), types.ErrConfigValidation)
}

func TestLayerForwardProducesOutputShape(t *testing.T) {
	rng := tensor.NewRng(1)
	layer, err := moe.NewLayer(rng, testConfig())
	require.NoError(t, err)

	x := autograd.New(rng.Randn(types.NewShape(2, 3, 8)), true)
	out, err := layer.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(2, 3, 8), out.Shape())
}

// TestGateWeightsSumToOnePerToken checks the invariant underlying the
// weight-mask dispatch: every token's selected top_k experts' gate
// weights sum to 1 (no routing dropout applied in eval mode).
func TestGateWeightsSumToOnePerToken(t *testing.T) {
	rng := tensor.NewRng(2)
	layer, err := moe.NewLayer(rng, testConfig())
	require.NoError(t, err)
	nn.Eval(layer)

	x := autograd.New(rng.Randn(types.NewShape(2, 5, 8)), true)
	_, err = layer.Forward(x)
	require.NoError(t, err)

	gw := layer.Stats().GateWeights.Value
	shape := gw.Shape()
	numExperts := shape[len(shape)-1]
	tokens := shape.Size() / numExperts
	data := gw.Data()
	for tok := 0; tok < tokens; tok++ {
		sum := float32(0)
		for e := 0; e < numExperts; e++ {
			sum += data[tok*numExperts+e]
		}
		assert.InDelta(t, float32(1), sum, 1e-4)
	}
}

func TestLoadBalanceLossIsNonNegative(t *testing.T) {
	rng := tensor.NewRng(3)
	layer, err := moe.NewLayer(rng, testConfig())
	require.NoError(t, err)
	nn.Eval(layer)

	x := autograd.New(rng.Randn(types.NewShape(4, 4, 8)), true)
	_, err = layer.Forward(x)
	require.NoError(t, err)

	loss, err := layer.LoadBalanceLoss()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loss.Value.Data()[0], float32(0))
}

// TestLayerForwardBackwardPropagatesToExpertsAndRouter confirms gradients
// flow from the summed output back into both the selected experts'
// parameters and the router's gate.
func TestLayerForwardBackwardPropagatesToExpertsAndRouter(t *testing.T) {
	rng := tensor.NewRng(4)
	layer, err := moe.NewLayer(rng, testConfig())
	require.NoError(t, err)

	x := autograd.New(rng.Randn(types.NewShape(1, 6, 8)), true)
	out, err := layer.Forward(x)
	require.NoError(t, err)

	loss, err := autograd.Sum(out, nil, false)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())

	assert.NotNil(t, layer.Router.Gate.Weight.Grad, "router gate should receive gradient")

	anyExpertGrad := false
	for _, e := range layer.Experts {
		if e.Up.Weight.Grad != nil {
			anyExpertGrad = true
		}
	}
	assert.True(t, anyExpertGrad, "at least one expert should receive gradient")
}

func TestGELUIsApproximatelyIdentityForLargePositiveInput(t *testing.T) {
	x := autograd.New(tensor.MustFromFlat([]float32{5, -5, 0}, types.NewShape(3)), false)
	y, err := moe.GELU(x)
	require.NoError(t, err)
	data := y.Value.Data()
	assert.InDelta(t, float32(5), data[0], 1e-2)
	assert.InDelta(t, float32(0), data[1], 1e-2)
	assert.InDelta(t, float32(0), data[2], 1e-6)
}

// TestExactlyTopKExpertsSelectedPerToken: for every (batch, seq) position
// the routing mask must carry exactly top_k non-zero gate weights, and
// those weights must sum to 1.
func TestExactlyTopKExpertsSelectedPerToken(t *testing.T) {
	rng := tensor.NewRng(8)
	cfg := moe.Config{
		NumExperts:       4,
		TopK:             2,
		InputDim:         16,
		HiddenDim:        32,
		OutputDim:        16,
		LoadBalanceAlpha: 0.01,
		LoadBalanceBeta:  0.01,
	}
	layer, err := moe.NewLayer(rng, cfg)
	require.NoError(t, err)
	nn.Eval(layer)

	x := autograd.New(rng.Randn(types.NewShape(4, 8, 16)), false)
	_, err = layer.Forward(x)
	require.NoError(t, err)

	gw := layer.Stats().GateWeights.Value
	data := gw.Data()
	tokens := gw.Size() / cfg.NumExperts
	for tok := 0; tok < tokens; tok++ {
		nonZero := 0
		sum := float32(0)
		for e := 0; e < cfg.NumExperts; e++ {
			w := data[tok*cfg.NumExperts+e]
			if w != 0 {
				nonZero++
			}
			sum += w
		}
		assert.Equal(t, cfg.TopK, nonZero, "token %d", tok)
		assert.InDelta(t, float32(1), sum, 1e-5, "token %d", tok)
	}
}
