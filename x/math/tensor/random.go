package tensor

import (
	"math/rand"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// Rng is a seedable source for random Array initialization. Initializers
// in x/math/nn take an *Rng rather than reaching for the global math/rand
// source, so a training run is reproducible end to end given one seed.
type Rng struct {
	r *rand.Rand
}

// NewRng builds a deterministic Rng from seed.
func NewRng(seed int64) *Rng {
	return &Rng{r: rand.New(rand.NewSource(seed))}
}

// Randn fills an Array of the given shape with i.i.d. standard-normal
// samples.
func (rng *Rng) Randn(shape types.Shape) Array {
	out := Zeros(shape)
	for i := range out.data {
		out.data[i] = float32(rng.r.NormFloat64())
	}
	return out
}

// Uniform fills an Array of the given shape with i.i.d. samples from
// [lo, hi).
func (rng *Rng) Uniform(shape types.Shape, lo, hi float32) Array {
	out := Zeros(shape)
	span := hi - lo
	for i := range out.data {
		out.data[i] = lo + float32(rng.r.Float64())*span
	}
	return out
}

// Shuffle permutes a slice of indices in place using the Fisher-Yates
// algorithm, for shuffling dataset example order between epochs.
func (rng *Rng) Shuffle(n int, swap func(i, j int)) {
	rng.r.Shuffle(n, swap)
}

// Bernoulli fills an Array with 1 (probability keepProb) or 0 (otherwise),
// unscaled. Used to build boolean-valued keep-masks, e.g. MoE's routing
// dropout, where the caller handles any rescaling itself.
func (rng *Rng) Bernoulli(shape types.Shape, keepProb float32) Array {
	out := Zeros(shape)
	for i := range out.data {
		if float32(rng.r.Float64()) < keepProb {
			out.data[i] = 1
		}
	}
	return out
}

// DropoutMask fills an Array with inverted-dropout values: 1/keepProb at
// kept positions (probability keepProb) and 0 at dropped positions, so
// multiplying it elementwise against an activation leaves its expectation
// unchanged between train and eval.
func (rng *Rng) DropoutMask(shape types.Shape, keepProb float32) Array {
	out := rng.Bernoulli(shape, keepProb)
	ScaleInPlace(out, 1/keepProb)
	return out
}

// Int returns a uniform random integer in [0, n).
func (rng *Rng) Int(n int) int {
	return rng.r.Intn(n)
}
