package moe

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
)

// Router is a noisy top-k gate: a linear projection to per-expert logits,
// optionally perturbed by learned-per-expert noise during training (the
// Shazeer-style noisy-top-k-gating formulation), followed by top-k
// selection and a softmax restricted to the selected experts.
type Router struct {
	nn.Module
	Gate      *nn.Linear
	NoiseGate *nn.Linear
	cfg       Config
	rng       *tensor.Rng
}

// NewRouter builds a Router from cfg. rng is retained and consulted on
// every Forward call for routing noise and dropout, matching the single
// shared-stream RNG convention the rest of the package follows.
func NewRouter(rng *tensor.Rng, cfg Config) *Router {
	r := &Router{cfg: cfg, rng: rng}
	r.Init()
	r.Gate = r.RegisterModule("gate", nn.NewLinear(rng, cfg.InputDim, cfg.NumExperts)).(*nn.Linear)
	r.NoiseGate = r.RegisterModule("noise_gate", nn.NewLinear(rng, cfg.InputDim, cfg.NumExperts)).(*nn.Linear)
	return r
}

// RouterOutput bundles the per-token gating weights used for dispatch
// with the load-balance telemetry derived alongside them.
type RouterOutput struct {
	// GateWeights is (batch, seq, num_experts): zero at every
	// non-selected (or dropout-dropped) expert, and, for a token with no
	// dropout, summing to 1 over its selected top_k experts.
	GateWeights *autograd.Variable
	// Importance is (num_experts,), differentiable: the per-expert sum of
	// pre-dropout gate weight across every token in the batch.
	Importance *autograd.Variable
	// Load is (num_experts,), non-differentiable: the post-dropout count
	// of tokens that selected each expert.
	Load *autograd.Variable
}

// Forward routes x (batch, seq, input_dim) to its top_k experts per
// token.
func (r *Router) Forward(x *autograd.Variable) (RouterOutput, error) {
	rng := r.rng
	cleanLogits, err := r.Gate.Forward(x)
	if err != nil {
		return RouterOutput{}, err
	}

	logits := cleanLogits
	training := r.IsTraining()
	if training && r.cfg.NoiseStd > 0 {
		noiseLogits, err := r.NoiseGate.Forward(x)
		if err != nil {
			return RouterOutput{}, err
		}
		noiseScale, err := softplus(noiseLogits)
		if err != nil {
			return RouterOutput{}, err
		}
		noiseScale, err = autograd.Scale(noiseScale, r.cfg.NoiseStd)
		if err != nil {
			return RouterOutput{}, err
		}
		randnVar := autograd.New(rng.Randn(cleanLogits.Shape()), false)
		noiseTerm, err := autograd.Mul(noiseScale, randnVar)
		if err != nil {
			return RouterOutput{}, err
		}
		logits, err = autograd.Add(cleanLogits, noiseTerm)
		if err != nil {
			return RouterOutput{}, err
		}
	}

	keep := topKMask(logits.Value, r.cfg.TopK)
	inverse := tensor.AddScalar(tensor.Neg(keep), 1)
	maskedLogits, err := autograd.MaskedFill(logits, autograd.New(inverse, false), math32.Inf(-1))
	if err != nil {
		return RouterOutput{}, err
	}
	preDropout, err := autograd.Softmax(maskedLogits, -1)
	if err != nil {
		return RouterOutput{}, err
	}

	gateWeights := preDropout
	selectMask := keep
	if training && r.cfg.RoutingDropout > 0 {
		dropKeep := rng.Bernoulli(preDropout.Shape(), 1-r.cfg.RoutingDropout)
		gateWeights, err = autograd.Mul(preDropout, autograd.New(dropKeep, false))
		if err != nil {
			return RouterOutput{}, err
		}
		selectMask, err = tensor.Mul(keep, dropKeep)
		if err != nil {
			return RouterOutput{}, err
		}
	}

	importance, err := autograd.Sum(preDropout, []int{0, 1}, false)
	if err != nil {
		return RouterOutput{}, err
	}
	loadArr, err := tensor.Sum(selectMask, []int{0, 1}, false)
	if err != nil {
		return RouterOutput{}, err
	}

	return RouterOutput{
		GateWeights: gateWeights,
		Importance:  importance,
		Load:        autograd.New(loadArr, false),
	}, nil
}

// topKMask returns a 0/1 Array the same shape as logits, with exactly
// min(k, num_experts) ones per row along the last axis, marking the k
// largest logits per token. Ties are broken by index (stable sort),
// which is an arbitrary but deterministic policy.
func topKMask(logits tensor.Array, k int) tensor.Array {
	shape := logits.Shape()
	numExperts := shape[shape.Rank()-1]
	data := logits.Data()
	mask := tensor.Zeros(shape)
	maskData := mask.Data()

	rows := len(data) / numExperts
	order := make([]int, numExperts)
	for row := 0; row < rows; row++ {
		start := row * numExperts
		for i := range order {
			order[i] = i
		}
		rowData := data[start : start+numExperts]
		sort.SliceStable(order, func(i, j int) bool { return rowData[order[i]] > rowData[order[j]] })
		limit := k
		if limit > numExperts {
			limit = numExperts
		}
		for i := 0; i < limit; i++ {
			maskData[start+order[i]] = 1
		}
	}
	return mask
}
