// Package optim implements the training-loop optimizer surface: Adam
// with per-parameter moment state, plain SGD, global-norm gradient
// clipping, and linear-warmup/decay learning-rate schedules.
package optim

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Adam is Adaptive Moment Estimation: per-parameter first/second moment
// estimates with bias correction, applied in place to every parameter
// reachable from the root layer it was constructed with.
type Adam struct {
	root                  nn.Layer
	lr                    float32
	beta1, beta2, epsilon float32
	schedule              LRSchedule
	step                  int
	state                 map[*autograd.Variable]*adamState
}

// adamState holds one parameter's first/second moment estimates. Keyed by
// the *autograd.Variable pointer itself rather than a data-pointer trick,
// since nanoforge's parameters are already heap-allocated Variables that
// never move underneath the optimizer.
type adamState struct {
	m, v tensor.Array
}

// NewAdam builds an Adam optimizer over every parameter reachable from
// root, with explicit hyperparameters.
func NewAdam(root nn.Layer, lr, beta1, beta2, epsilon float32) (*Adam, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("optim.NewAdam: %w: learning rate %v must be positive", types.ErrInvalidArgument, lr)
	}
	if beta1 < 0 || beta1 >= 1 {
		return nil, fmt.Errorf("optim.NewAdam: %w: beta1 %v must be in [0, 1)", types.ErrInvalidArgument, beta1)
	}
	if beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("optim.NewAdam: %w: beta2 %v must be in [0, 1)", types.ErrInvalidArgument, beta2)
	}
	if epsilon <= 0 {
		return nil, fmt.Errorf("optim.NewAdam: %w: epsilon %v must be positive", types.ErrInvalidArgument, epsilon)
	}
	return &Adam{
		root: root, lr: lr, beta1: beta1, beta2: beta2, epsilon: epsilon,
		state: make(map[*autograd.Variable]*adamState),
	}, nil
}

// NewAdamDefault builds an Adam optimizer with the conventional defaults
// (beta1=0.9, beta2=0.999, epsilon=1e-8).
func NewAdamDefault(root nn.Layer, lr float32) (*Adam, error) {
	return NewAdam(root, lr, 0.9, 0.999, 1e-8)
}

// SetLR overwrites the learning rate directly. A schedule attached via
// WithSchedule will overwrite it again at the start of the next Step.
func (a *Adam) SetLR(lr float32) { a.lr = lr }

// LR reports the optimizer's current learning rate.
func (a *Adam) LR() float32 { return a.lr }

// WithSchedule attaches a schedule queried (and written into the
// optimizer's lr) at the start of every Step.
func (a *Adam) WithSchedule(schedule LRSchedule) *Adam {
	a.schedule = schedule
	return a
}

// Step applies one Adam update to every parameter reachable from the
// optimizer's root layer that has RequiresGrad()==true and a non-nil
// Grad; a parameter with no gradient this step (e.g. an MoE expert
// skipped via the all-zero-mask optimization) is left untouched.
//
// Returns a non-nil error wrapping types.ErrNumericWarning if any
// parameter's gradient contains NaN/Inf; that parameter's update is
// skipped rather than applied with a poisoned value, and every other
// parameter still updates normally. The caller decides whether to treat
// the warning as fatal for this training step.
func (a *Adam) Step() error {
	a.step++
	if a.schedule != nil {
		a.lr = a.schedule(a.step)
	}
	beta1Power := math32.Pow(a.beta1, float32(a.step))
	beta2Power := math32.Pow(a.beta2, float32(a.step))
	biasCorrection1 := 1 - beta1Power
	biasCorrection2 := 1 - beta2Power

	var warned error
	for _, np := range nn.NamedParameters(a.root) {
		param := np.Param
		if !param.RequiresGrad() || param.Grad == nil {
			continue
		}
		grad := *param.Grad
		if hasNonFinite(grad) {
			warned = fmt.Errorf("optim.Adam.Step: %w: parameter %q has a non-finite gradient, skipping its update",
				types.ErrNumericWarning, np.Name)
			continue
		}
		st, ok := a.state[param]
		if !ok {
			st = &adamState{m: tensor.Zeros(grad.Shape()), v: tensor.Zeros(grad.Shape())}
			a.state[param] = st
		}
		data := param.Value.Data()
		gData := grad.Data()
		mData := st.m.Data()
		vData := st.v.Data()
		for i, g := range gData {
			mData[i] = a.beta1*mData[i] + (1-a.beta1)*g
			vData[i] = a.beta2*vData[i] + (1-a.beta2)*g*g
			mHat := mData[i] / biasCorrection1
			vHat := vData[i] / biasCorrection2
			data[i] -= a.lr * mHat / (math32.Sqrt(vHat) + a.epsilon)
		}
	}
	return warned
}

func hasNonFinite(a tensor.Array) bool {
	for _, v := range a.Data() {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return true
		}
	}
	return false
}
