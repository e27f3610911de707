package moe

import "github.com/nanoforge/nanoforge/x/math/autograd"

// LoadBalanceLoss computes α·CV(importance)² + β·CV(load)² from the
// layer's most recent Forward call, the auxiliary scalar a trainer adds
// to the main task loss with a small coefficient to keep expert
// utilization even.
// The importance term is differentiable (Importance is built from the
// router's softmax output); the load term is detached, since Load is
// derived from a hard top-k/dropout selection with no useful gradient.
func (l *Layer) LoadBalanceLoss() (*autograd.Variable, error) {
	importanceCV, err := cvSquared(l.lastStats.Importance)
	if err != nil {
		return nil, err
	}
	loadCV, err := cvSquared(l.lastStats.Load)
	if err != nil {
		return nil, err
	}
	importanceTerm, err := autograd.Scale(importanceCV, l.cfg.LoadBalanceAlpha)
	if err != nil {
		return nil, err
	}
	loadTerm, err := autograd.Scale(loadCV, l.cfg.LoadBalanceBeta)
	if err != nil {
		return nil, err
	}
	return autograd.Add(importanceTerm, loadTerm)
}

// cvSquared computes the squared coefficient of variation,
// Var(v)/Mean(v)², over a 1-D Variable. A small epsilon in the
// denominator avoids a division by zero when every expert's telemetry
// value happens to be zero (e.g. an untrained router at init).
func cvSquared(v *autograd.Variable) (*autograd.Variable, error) {
	mean, err := autograd.Mean(v, nil, false)
	if err != nil {
		return nil, err
	}
	diff, err := autograd.Sub(v, mean)
	if err != nil {
		return nil, err
	}
	sq, err := autograd.Pow(diff, 2)
	if err != nil {
		return nil, err
	}
	variance, err := autograd.Mean(sq, nil, false)
	if err != nil {
		return nil, err
	}
	meanSq, err := autograd.Pow(mean, 2)
	if err != nil {
		return nil, err
	}
	meanSqEps, err := autograd.AddScalar(meanSq, 1e-8)
	if err != nil {
		return nil, err
	}
	return autograd.Div(variance, meanSqEps)
}
