package tensor

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// binaryOp applies fn element-by-element over the NumPy-style broadcast of
// a and b, returning a freshly-allocated result.
func binaryOp(op string, a, b Array, fn func(x, y float32) float32) (Array, error) {
	shape, err := types.BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return Array{}, fmt.Errorf("tensor.%s: %w", op, err)
	}
	out := Zeros(shape)
	for i, idx := range elementIndices(shape) {
		av := a.data[broadcastIndex(idx, a.shape)]
		bv := b.data[broadcastIndex(idx, b.shape)]
		out.data[i] = fn(av, bv)
	}
	return out, nil
}

// Add computes a + b with broadcasting.
func Add(a, b Array) (Array, error) { return binaryOp("Add", a, b, func(x, y float32) float32 { return x + y }) }

// Sub computes a - b with broadcasting.
func Sub(a, b Array) (Array, error) { return binaryOp("Sub", a, b, func(x, y float32) float32 { return x - y }) }

// Mul computes a * b with broadcasting (element-wise, not matrix product).
func Mul(a, b Array) (Array, error) { return binaryOp("Mul", a, b, func(x, y float32) float32 { return x * y }) }

// Div computes a / b with broadcasting.
func Div(a, b Array) (Array, error) { return binaryOp("Div", a, b, func(x, y float32) float32 { return x / y }) }

// Maximum computes the element-wise maximum of a and b with broadcasting.
func Maximum(a, b Array) (Array, error) {
	return binaryOp("Maximum", a, b, func(x, y float32) float32 {
		if x > y {
			return x
		}
		return y
	})
}

// Minimum computes the element-wise minimum of a and b with broadcasting.
func Minimum(a, b Array) (Array, error) {
	return binaryOp("Minimum", a, b, func(x, y float32) float32 {
		if x < y {
			return x
		}
		return y
	})
}

// Greater returns 1 where a > b, else 0 (broadcasting).
func Greater(a, b Array) (Array, error) {
	return binaryOp("Greater", a, b, func(x, y float32) float32 {
		if x > y {
			return 1
		}
		return 0
	})
}

// Less returns 1 where a < b, else 0 (broadcasting).
func Less(a, b Array) (Array, error) {
	return binaryOp("Less", a, b, func(x, y float32) float32 {
		if x < y {
			return 1
		}
		return 0
	})
}

// Eq returns 1 where a == b exactly, else 0 (broadcasting). Only
// meaningful for values that were never rounded (masks, ids stored as
// floats); prefer an epsilon comparison for arithmetic results.
func Eq(a, b Array) (Array, error) {
	return binaryOp("Eq", a, b, func(x, y float32) float32 {
		if x == y {
			return 1
		}
		return 0
	})
}

// unaryOp applies fn to every element of a, returning a fresh Array.
func unaryOp(a Array, fn func(x float32) float32) Array {
	out := Zeros(a.shape)
	for i, v := range a.data {
		out.data[i] = fn(v)
	}
	return out
}

// Neg negates every element.
func Neg(a Array) Array { return unaryOp(a, func(x float32) float32 { return -x }) }

// Exp applies e^x element-wise.
func Exp(a Array) Array { return unaryOp(a, math32.Exp) }

// Log applies natural log element-wise. Callers are responsible for
// keeping inputs positive; non-positive inputs yield NaN/-Inf like math32.
func Log(a Array) Array { return unaryOp(a, math32.Log) }

// Sqrt applies square root element-wise.
func Sqrt(a Array) Array { return unaryOp(a, math32.Sqrt) }

// Tanh applies the hyperbolic tangent element-wise.
func Tanh(a Array) Array { return unaryOp(a, math32.Tanh) }

// Sigmoid applies the logistic sigmoid element-wise, using the numerically
// stable two-branch form to avoid overflow in Exp for large |x|.
func Sigmoid(a Array) Array {
	return unaryOp(a, func(x float32) float32 {
		if x >= 0 {
			z := math32.Exp(-x)
			return 1 / (1 + z)
		}
		z := math32.Exp(x)
		return z / (1 + z)
	})
}

// Pow raises every element to the given scalar exponent.
func Pow(a Array, exponent float32) Array {
	return unaryOp(a, func(x float32) float32 { return math32.Pow(x, exponent) })
}

// Abs applies absolute value element-wise.
func Abs(a Array) Array { return unaryOp(a, math32.Abs) }

// ReLU clamps negative elements to zero.
func ReLU(a Array) Array {
	return unaryOp(a, func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	})
}

// Clip clamps every element into [lo, hi].
func Clip(a Array, lo, hi float32) Array {
	return unaryOp(a, func(x float32) float32 {
		if x < lo {
			return lo
		}
		if x > hi {
			return hi
		}
		return x
	})
}

// Scale multiplies every element by a scalar.
func Scale(a Array, s float32) Array { return unaryOp(a, func(x float32) float32 { return x * s }) }

// AddScalar adds a scalar to every element.
func AddScalar(a Array, s float32) Array { return unaryOp(a, func(x float32) float32 { return x + s }) }

// AddInPlace accumulates b into a in place, broadcasting b against a's
// shape. Used by gradient accumulation, where
// allocating a fresh buffer per update would be wasteful.
func AddInPlace(a Array, b Array) error {
	if !a.shape.Equal(b.shape) && b.Size() != 1 {
		return fmt.Errorf("tensor.AddInPlace: %w: shapes %v and %v", types.ErrShapeMismatch, a.shape, b.shape)
	}
	for i, idx := range elementIndices(a.shape) {
		a.data[i] += b.data[broadcastIndex(idx, b.shape)]
	}
	return nil
}

// ScaleInPlace multiplies every element of a by s, in place.
func ScaleInPlace(a Array, s float32) {
	for i := range a.data {
		a.data[i] *= s
	}
}
