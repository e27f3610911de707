package types

import "errors"

// Sentinel error kinds. Call sites wrap these with fmt.Errorf("Pkg.Func:
// %w", ErrX) so callers can still branch on kind via errors.Is while humans
// get a function-qualified message.
var (
	// ErrShapeMismatch covers incompatible operand shapes, out-of-range
	// gather indices, reshape size mismatches, and attention head/dim
	// divisibility failures.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrInvalidArgument covers bad constructor/call arguments: negative
	// dropout probability, non-positive learning rate, zero batch size, and
	// similar.
	ErrInvalidArgument = errors.New("tensor: invalid argument")

	// ErrUninitializedGrad is raised when backward is invoked on a Variable
	// with neither a creator chain nor a seed gradient.
	ErrUninitializedGrad = errors.New("autograd: uninitialized gradient")

	// ErrCacheOverflow is raised when a KV-cache append would exceed its
	// configured capacity.
	ErrCacheOverflow = errors.New("transformer: kv-cache overflow")

	// ErrConfigValidation covers model/optimizer/loss construction-time
	// invariant violations (e.g. hidden_size % num_heads != 0, top_k
	// outside [1, num_experts]).
	ErrConfigValidation = errors.New("nanoforge: invalid configuration")

	// ErrNumericWarning covers NaN/Inf encountered in a loss or a gradient.
	// Not fatal: it is returned (never panicked) as a diagnostic from
	// optim.ClipGradGlobalNorm and optim.Adam.Step, leaving the caller free
	// to skip the step, log it, or proceed anyway.
	ErrNumericWarning = errors.New("nanoforge: numeric warning (nan/inf)")
)
