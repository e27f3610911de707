package optim

import "github.com/chewxy/math32"

// LRSchedule computes the learning rate for a given 1-indexed optimizer
// step. An optimizer with a schedule attached queries it at the start of
// every Step and writes the result into its own lr before applying the
// update.
type LRSchedule func(step int) float32

// Constant returns a schedule that always reports lr, useful as a no-op
// default or in tests that don't exercise warmup/decay.
func Constant(lr float32) LRSchedule {
	return func(int) float32 { return lr }
}

// LinearWarmupThenLinearDecay ramps linearly from 0 to peakLR over the
// first warmupSteps steps, then decays linearly from peakLR to 0 over the
// remaining totalSteps-warmupSteps steps. Steps beyond totalSteps hold at
// 0. warmupSteps=0 starts directly at peakLR.
func LinearWarmupThenLinearDecay(peakLR float32, warmupSteps, totalSteps int) LRSchedule {
	return func(step int) float32 {
		if step <= warmupSteps {
			return warmupLR(peakLR, warmupSteps, step)
		}
		progress := decayProgress(warmupSteps, totalSteps, step)
		return peakLR * (1 - progress)
	}
}

// LinearWarmupThenCosineDecay is identical to LinearWarmupThenLinearDecay
// except the post-warmup decay follows a half-cosine from peakLR to 0
// instead of a straight line.
func LinearWarmupThenCosineDecay(peakLR float32, warmupSteps, totalSteps int) LRSchedule {
	return func(step int) float32 {
		if step <= warmupSteps {
			return warmupLR(peakLR, warmupSteps, step)
		}
		progress := decayProgress(warmupSteps, totalSteps, step)
		return peakLR * 0.5 * (1 + math32.Cos(math32.Pi*progress))
	}
}

func warmupLR(peakLR float32, warmupSteps, step int) float32 {
	if warmupSteps <= 0 {
		return peakLR
	}
	return peakLR * float32(step) / float32(warmupSteps)
}

// decayProgress maps step into [0, 1] over the decay region
// (warmupSteps, totalSteps], clamping steps beyond totalSteps to 1 so the
// schedule holds at its floor value rather than going negative or
// extrapolating past it.
func decayProgress(warmupSteps, totalSteps, step int) float32 {
	decaySteps := totalSteps - warmupSteps
	if decaySteps <= 0 {
		return 1
	}
	progress := float32(step-warmupSteps) / float32(decaySteps)
	if progress > 1 {
		return 1
	}
	if progress < 0 {
		return 0
	}
	return progress
}
