package nn

import (
	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// KaimingUniform draws from U(-bound, bound) with
// bound = sqrt(6 / fanIn), the standard initializer for layers followed
// by a ReLU-family nonlinearity (here: the SwiGLU gate/up projections).
func KaimingUniform(rng *tensor.Rng, shape types.Shape, fanIn int) tensor.Array {
	bound := math32.Sqrt(6 / float32(fanIn))
	return rng.Uniform(shape, -bound, bound)
}

// Zeros returns a zero-initialized Array of the given shape, used for
// biases.
func Zeros(shape types.Shape) tensor.Array { return tensor.Zeros(shape) }

// Normal draws i.i.d. samples from N(0, std^2), the initializer used for
// token and positional embedding tables.
func Normal(rng *tensor.Rng, shape types.Shape, std float32) tensor.Array {
	out := rng.Randn(shape)
	tensor.ScaleInPlace(out, std)
	return out
}

// Ones returns a ones-initialized Array, used for RMSNorm/LayerNorm gain.
func Ones(shape types.Shape) tensor.Array { return tensor.Ones(shape) }
