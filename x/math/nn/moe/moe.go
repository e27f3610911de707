package moe

import (
	"strconv"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
)

// Layer is a Mixture-of-Experts feed-forward sublayer: Router picks each
// token's top_k experts, every expert forwards the full batch, and the
// outputs are combined by the per-expert gating weight (batch-parallel
// weight-mask dispatch, which keeps the whole graph differentiable for
// both router and experts). It satisfies
// transformer.FeedForward, so it drops into transformer.Model in place of
// a dense SwiGLU block.
type Layer struct {
	nn.Module
	Router  *Router
	Experts []*Expert
	cfg     Config

	// lastStats holds the telemetry from the most recent Forward call,
	// for the caller to pull the load-balance auxiliary loss from.
	lastStats RouterOutput
}

// NewLayer builds a MoE layer from cfg.
func NewLayer(rng *tensor.Rng, cfg Config) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Layer{cfg: cfg}
	l.Init()
	l.Router = l.RegisterModule("router", NewRouter(rng, cfg)).(*Router)
	l.Experts = make([]*Expert, cfg.NumExperts)
	for e := 0; e < cfg.NumExperts; e++ {
		l.Experts[e] = NewExpert(rng, cfg.InputDim, cfg.HiddenDim, cfg.OutputDim)
		l.RegisterModule(expertName(e), l.Experts[e])
	}
	return l, nil
}

func expertName(e int) string {
	return "expert_" + strconv.Itoa(e)
}

// Forward routes and dispatches x (batch, seq, input_dim), producing
// (batch, seq, output_dim). The router's telemetry for this call is
// retained and can be read back with Stats/LoadBalanceLoss.
func (l *Layer) Forward(x *autograd.Variable) (*autograd.Variable, error) {
	routed, err := l.Router.Forward(x)
	if err != nil {
		return nil, err
	}
	l.lastStats = routed

	axis := routed.GateWeights.Shape().Rank() - 1
	var out *autograd.Variable
	for e, expert := range l.Experts {
		gateCol, err := autograd.Slice(routed.GateWeights, axis, e, e+1)
		if err != nil {
			return nil, err
		}
		if allZero(gateCol) {
			continue
		}
		expertOut, err := expert.Forward(x)
		if err != nil {
			return nil, err
		}
		contribution, err := autograd.Mul(expertOut, gateCol)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = contribution
			continue
		}
		out, err = autograd.Add(out, contribution)
		if err != nil {
			return nil, err
		}
	}
	if out == nil {
		// Every expert's mask was entirely zero (e.g. a zero-length
		// batch, or every token's top-k dropped by routing dropout):
		// the layer output is exactly zero.
		shape := x.Shape().Clone()
		shape[len(shape)-1] = l.cfg.OutputDim
		out = autograd.New(tensor.Zeros(shape), false)
	}
	return out, nil
}

// allZero reports whether every element of a gating-weight column is
// zero, letting Forward skip an expert whose mask selected no tokens at
// all; a skipped expert's contribution is identically zero, so the
// mask-sum semantics are unchanged.
func allZero(v *autograd.Variable) bool {
	for _, x := range v.Value.Data() {
		if x != 0 {
			return false
		}
	}
	return true
}

// Stats returns the router telemetry (importance/load per expert) from
// the most recent Forward call.
func (l *Layer) Stats() RouterOutput { return l.lastStats }
