package losses

import (
	"fmt"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// DPOConfig holds Direct Preference Optimization's two hyperparameters.
type DPOConfig struct {
	// Beta scales the implicit reward margin; higher values trust the
	// reference policy less.
	Beta float32
	// LabelSmoothing (ε) blends in a penalty for the reversed preference:
	// L = -(1-ε)·log σ(Δ) - ε·log σ(-Δ). 0 disables it.
	LabelSmoothing float32
}

func (c DPOConfig) validate() error {
	if c.Beta <= 0 {
		return fmt.Errorf("%w: beta %v must be positive", types.ErrInvalidArgument, c.Beta)
	}
	if c.LabelSmoothing < 0 || c.LabelSmoothing >= 0.5 {
		return fmt.Errorf("%w: label_smoothing %v must be in [0, 0.5)", types.ErrInvalidArgument, c.LabelSmoothing)
	}
	return nil
}

// DPOBatch is the paired data a DPO step consumes: a shared prompt,
// chosen/rejected token continuations, and a response mask per pair
// (0 covers the prompt, 1 covers the response) so only response tokens
// contribute to ℓ_π.
type DPOBatch struct {
	ChosenTargets   [][]int
	RejectedTargets [][]int
	ChosenMask      [][]float32
	RejectedMask    [][]float32
}

// DPOResult carries the scalar loss Variable plus the non-differentiable
// training diagnostics a caller typically logs.
type DPOResult struct {
	Loss     *autograd.Variable
	Accuracy float32 // fraction of pairs where ℓ_πθ(chosen) > ℓ_πθ(rejected)
}

// DPO computes the Direct Preference Optimization loss. policyChosen/
// policyRejected are the trainable policy's logits over the chosen/
// rejected sequences; refChosen/refRejected are the frozen reference
// policy's logits over the same sequences (obtained by running the
// reference model forward and calling Unchain on its output, or simply
// never registering it for gradient tracking — either way RequiresGrad
// must be false so Backward does not waste time walking into it).
func DPO(cfg DPOConfig, policyChosen, policyRejected, refChosen, refRejected *autograd.Variable, batch DPOBatch) (DPOResult, error) {
	if err := cfg.validate(); err != nil {
		return DPOResult{}, fmt.Errorf("losses.DPO: %w", err)
	}

	lPiChosen, err := sequenceLogProb(policyChosen, batch.ChosenTargets, batch.ChosenMask)
	if err != nil {
		return DPOResult{}, fmt.Errorf("losses.DPO: chosen policy: %w", err)
	}
	lPiRejected, err := sequenceLogProb(policyRejected, batch.RejectedTargets, batch.RejectedMask)
	if err != nil {
		return DPOResult{}, fmt.Errorf("losses.DPO: rejected policy: %w", err)
	}
	lRefChosen, err := sequenceLogProb(refChosen, batch.ChosenTargets, batch.ChosenMask)
	if err != nil {
		return DPOResult{}, fmt.Errorf("losses.DPO: chosen reference: %w", err)
	}
	lRefRejected, err := sequenceLogProb(refRejected, batch.RejectedTargets, batch.RejectedMask)
	if err != nil {
		return DPOResult{}, fmt.Errorf("losses.DPO: rejected reference: %w", err)
	}

	chosenDiff, err := autograd.Sub(lPiChosen, lRefChosen)
	if err != nil {
		return DPOResult{}, err
	}
	rejectedDiff, err := autograd.Sub(lPiRejected, lRefRejected)
	if err != nil {
		return DPOResult{}, err
	}
	delta, err := autograd.Sub(chosenDiff, rejectedDiff)
	if err != nil {
		return DPOResult{}, err
	}
	delta, err = autograd.Scale(delta, cfg.Beta)
	if err != nil {
		return DPOResult{}, err
	}

	logSigDelta, err := logSigmoid(delta)
	if err != nil {
		return DPOResult{}, err
	}

	var perPair *autograd.Variable
	if cfg.LabelSmoothing > 0 {
		negDelta, err := autograd.Neg(delta)
		if err != nil {
			return DPOResult{}, err
		}
		logSigNegDelta, err := logSigmoid(negDelta)
		if err != nil {
			return DPOResult{}, err
		}
		term1, err := autograd.Scale(logSigDelta, 1-cfg.LabelSmoothing)
		if err != nil {
			return DPOResult{}, err
		}
		term2, err := autograd.Scale(logSigNegDelta, cfg.LabelSmoothing)
		if err != nil {
			return DPOResult{}, err
		}
		perPair, err = autograd.Add(term1, term2)
		if err != nil {
			return DPOResult{}, err
		}
	} else {
		perPair = logSigDelta
	}

	meanLogSig, err := autograd.Mean(perPair, []int{0}, false)
	if err != nil {
		return DPOResult{}, err
	}
	loss, err := autograd.Neg(meanLogSig)
	if err != nil {
		return DPOResult{}, err
	}

	return DPOResult{Loss: loss, Accuracy: pairwiseAccuracy(lPiChosen, lPiRejected)}, nil
}

// pairwiseAccuracy reports the fraction of pairs where the policy scores
// the chosen response strictly higher than the rejected one. Read
// directly off the forward values rather than through autograd, since
// it's a diagnostic, not part of the loss graph.
func pairwiseAccuracy(chosen, rejected *autograd.Variable) float32 {
	c := chosen.Value.Data()
	r := rejected.Value.Data()
	var wins int
	for i := range c {
		if c[i] > r[i] {
			wins++
		}
	}
	if len(c) == 0 {
		return 0
	}
	return float32(wins) / float32(len(c))
}
