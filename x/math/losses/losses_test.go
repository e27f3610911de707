package losses_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/losses"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

func TestCausalLMMaskedMeanIgnoresPaddedPositions(t *testing.T) {
	// (B=1, T=2, V=3); second position is padding and must not count
	// toward the denominator or the gradient.
	logits := autograd.New(tensor.MustFromFlat([]float32{
		2, 0, 0, // position 0: argmax is token 0
		0, 0, 9, // position 1: padding, should be ignored
	}, types.NewShape(1, 2, 3)), true)
	targets := [][]int{{0, 0}}
	mask := [][]float32{{1, 0}}

	loss, err := losses.CausalLM(logits, targets, mask)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())

	// Gradient should be entirely zero at the masked-out position (t=1).
	grad := logits.Grad.Data()
	for _, g := range grad[3:6] {
		assert.InDelta(t, float32(0), g, 1e-6)
	}
	// And non-zero somewhere at the unmasked position.
	var anyNonZero bool
	for _, g := range grad[0:3] {
		if g != 0 {
			anyNonZero = true
		}
	}
	assert.True(t, anyNonZero)
}

func TestCausalLMRejectsAllMaskedBatch(t *testing.T) {
	logits := autograd.New(tensor.Zeros(types.NewShape(1, 2, 3)), true)
	_, err := losses.CausalLM(logits, [][]int{{0, 0}}, [][]float32{{0, 0}})
	require.Error(t, err)
}

func randomLogits(b, t_, v int, seed float32) *autograd.Variable {
	data := make([]float32, b*t_*v)
	for i := range data {
		// deterministic pseudo-noise, no math/rand dependency needed
		x := float32(i)*0.37 + seed
		data[i] = float32(math.Mod(float64(x), 1.0)) - 0.5
	}
	return autograd.New(tensor.MustFromFlat(data, types.NewShape(b, t_, v)), true)
}

func allOnesMask(b, t int) [][]float32 {
	mask := make([][]float32, b)
	for i := range mask {
		row := make([]float32, t)
		for j := range row {
			row[j] = 1
		}
		mask[i] = row
	}
	return mask
}

// TestDPOLossAtInitializationMatchesLogHalf: when the policy equals the
// reference exactly, every
// implicit reward margin is zero, so the loss must equal -log(sigmoid(0))
// = -log(0.5), regardless of which pair is evaluated.
func TestDPOLossAtInitializationMatchesLogHalf(t *testing.T) {
	b, tLen, v := 4, 3, 5
	chosenLogits := randomLogits(b, tLen, v, 0.1)
	rejectedLogits := randomLogits(b, tLen, v, 0.9)
	chosenTargets := [][]int{{0, 1, 2}, {1, 1, 0}, {2, 0, 1}, {4, 3, 2}}
	rejectedTargets := [][]int{{1, 0, 2}, {0, 2, 1}, {3, 1, 0}, {2, 2, 2}}
	mask := allOnesMask(b, tLen)

	// Reference policy shares the exact same values as the current
	// policy, but detached, so ℓπ - ℓref == 0 for every pair.
	refChosen := autograd.New(chosenLogits.Value.Clone(), false)
	refRejected := autograd.New(rejectedLogits.Value.Clone(), false)

	batch := losses.DPOBatch{
		ChosenTargets:   chosenTargets,
		RejectedTargets: rejectedTargets,
		ChosenMask:      mask,
		RejectedMask:    mask,
	}
	res, err := losses.DPO(losses.DPOConfig{Beta: 0.1}, chosenLogits, rejectedLogits, refChosen, refRejected, batch)
	require.NoError(t, err)

	wantLoss := -math32Log(0.5)
	assert.InDelta(t, wantLoss, res.Loss.Value.Data()[0], 1e-4)
}

// TestDPOAccuracyNonDecreasingOverTraining: a few gradient steps with a
// small learning rate should not make the policy's chosen-vs-rejected
// pairwise accuracy worse.
func TestDPOAccuracyNonDecreasingOverTraining(t *testing.T) {
	b, tLen, v := 6, 4, 6
	chosenTargets := make([][]int, b)
	rejectedTargets := make([][]int, b)
	for i := range chosenTargets {
		row := make([]int, tLen)
		rRow := make([]int, tLen)
		for j := range row {
			row[j] = (i + j) % v
			rRow[j] = (i + j + 1) % v
		}
		chosenTargets[i] = row
		rejectedTargets[i] = rRow
	}
	mask := allOnesMask(b, tLen)

	refChosenData := randomLogits(b, tLen, v, 0.2).Value
	refRejectedData := randomLogits(b, tLen, v, 0.6).Value
	refChosen := autograd.New(refChosenData, false)
	refRejected := autograd.New(refRejectedData, false)

	policyChosen := autograd.New(refChosenData.Clone(), true)
	policyRejected := autograd.New(refRejectedData.Clone(), true)

	cfg := losses.DPOConfig{Beta: 0.1}
	batch := losses.DPOBatch{
		ChosenTargets:   chosenTargets,
		RejectedTargets: rejectedTargets,
		ChosenMask:      mask,
		RejectedMask:    mask,
	}

	const lr = 0.05
	var firstAcc, lastAcc float32
	for step := 0; step < 5; step++ {
		policyChosen.SetGrad(tensor.Zeros(policyChosen.Shape()))
		policyRejected.SetGrad(tensor.Zeros(policyRejected.Shape()))

		res, err := losses.DPO(cfg, policyChosen, policyRejected, refChosen, refRejected, batch)
		require.NoError(t, err)
		if step == 0 {
			firstAcc = res.Accuracy
		}
		lastAcc = res.Accuracy

		require.NoError(t, res.Loss.Backward())
		for _, v := range []*autograd.Variable{policyChosen, policyRejected} {
			data := v.Value.Data()
			grad := v.Grad.Data()
			for i := range data {
				data[i] -= lr * grad[i]
			}
		}
	}
	assert.GreaterOrEqual(t, lastAcc, firstAcc)
}

func math32Log(x float32) float32 {
	return float32(math.Log(float64(x)))
}

// TestGRPOGroupRelativeAdvantagesSumToZero: advantages within a group
// always sum to zero, regardless of the reward normalization chosen.
func TestGRPOGroupRelativeAdvantagesSumToZero(t *testing.T) {
	rewards := [][]float32{
		{1, 2, 3, 4},
		{-5, 0, 5, 10},
		{0, 0, 0, 1},
	}
	for _, norm := range []losses.RewardNormalization{
		losses.RewardNormNone,
		losses.RewardNormStandardize,
		losses.RewardNormMinMax,
		losses.RewardNormStandardizeClip3,
	} {
		b, tLen, v := len(rewards), 2, 4
		candidates := make([]losses.GRPOCandidate, len(rewards[0]))
		for k := range candidates {
			logits := randomLogits(b, tLen, v, float32(k)*0.3)
			targets := make([][]int, b)
			for bi := range targets {
				targets[bi] = []int{k % v, (k + 1) % v}
			}
			mask := allOnesMask(b, tLen)
			oldLogProb := autograd.New(tensor.Zeros(types.NewShape(b)), false)
			candidates[k] = losses.GRPOCandidate{
				Logits:       logits,
				OldLogProb:   oldLogProb,
				Targets:      targets,
				ResponseMask: mask,
			}
		}

		res, err := losses.GRPO(losses.GRPOConfig{ClipEpsilon: 0.2, Normalization: norm}, candidates, rewards)
		require.NoError(t, err)
		for _, row := range res.Advantages {
			var sum float32
			for _, a := range row {
				sum += a
			}
			assert.InDelta(t, float32(0), sum, 1e-3, "normalization=%v", norm)
		}
	}
}

// TestGRPOClippedSurrogateZeroesGradientOutsideTrustRegion: once the
// probability ratio strays outside [1-ε, 1+ε], the clipped branch
// contributes zero gradient with respect to that branch's ratio.
func TestGRPOClippedSurrogateZeroesGradientOutsideTrustRegion(t *testing.T) {
	eps := float32(0.2)
	ratio := autograd.New(tensor.Scalar(5.0), true) // far outside [0.8, 1.2]
	advantage := autograd.New(tensor.Scalar(1.0), false)

	clipped, err := autograd.Clip(ratio, 1-eps, 1+eps)
	require.NoError(t, err)
	surrogate, err := autograd.Mul(clipped, advantage)
	require.NoError(t, err)
	require.NoError(t, surrogate.Backward())

	assert.InDelta(t, float32(0), ratio.Grad.Data()[0], 1e-6)
}

func TestGRPORejectsMismatchedRewardRowLength(t *testing.T) {
	candidates := []losses.GRPOCandidate{{
		Logits:       randomLogits(2, 1, 3, 0),
		OldLogProb:   autograd.New(tensor.Zeros(types.NewShape(2)), false),
		Targets:      [][]int{{0}, {1}},
		ResponseMask: allOnesMask(2, 1),
	}}
	_, err := losses.GRPO(losses.GRPOConfig{ClipEpsilon: 0.2}, candidates, [][]float32{{1, 2}, {1}})
	require.Error(t, err)
}

// TestDPOSingleStepSeparatesChosenFromRejected is the dry-run scenario:
// the policy starts exactly at the reference, the chosen and rejected
// sequences differ by a single token, and one gradient step with β=0.1
// must already score the chosen continuation above the rejected one.
func TestDPOSingleStepSeparatesChosenFromRejected(t *testing.T) {
	b, tLen, v := 1, 3, 5
	// Shared prompt+response grid: both sequences score against the same
	// logits; only the final target token differs.
	chosenTargets := [][]int{{2, 4, 1}}
	rejectedTargets := [][]int{{2, 4, 3}}
	mask := [][]float32{{0, 1, 1}} // first position is prompt

	refData := randomLogits(b, tLen, v, 0.4).Value
	ref := autograd.New(refData, false)
	policy := autograd.New(refData.Clone(), true)

	cfg := losses.DPOConfig{Beta: 0.1}
	batch := losses.DPOBatch{
		ChosenTargets:   chosenTargets,
		RejectedTargets: rejectedTargets,
		ChosenMask:      mask,
		RejectedMask:    mask,
	}

	res, err := losses.DPO(cfg, policy, policy, ref, ref, batch)
	require.NoError(t, err)
	require.NoError(t, res.Loss.Backward())

	const lr = 0.5
	data := policy.Value.Data()
	grad := policy.Grad.Data()
	for i := range data {
		data[i] -= lr * grad[i]
	}
	policy.ClearGrad()

	after, err := losses.DPO(cfg, policy, policy, ref, ref, batch)
	require.NoError(t, err)
	assert.Equal(t, float32(1), after.Accuracy,
		"after one step the chosen response must out-score the rejected one")
	assert.Less(t, after.Loss.Value.Data()[0], res.Loss.Value.Data()[0])
}
