package optim

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// ClipGradGlobalNorm computes g_total = sqrt(sum of squared norms across
// every gradient reachable from root) and, if g_total exceeds maxNorm,
// rescales every gradient in place by maxNorm/(g_total+1e-6). Parameters
// with no gradient this step are skipped. Returns g_total so the caller
// can log it.
//
// If any gradient contains NaN/Inf, g_total is itself NaN/Inf; clipping
// is skipped entirely in that case (scaling by a NaN factor would only
// spread the corruption to every other parameter) and the returned error
// wraps types.ErrNumericWarning, leaving gradients untouched so the
// caller can decide whether to skip the optimizer step.
func ClipGradGlobalNorm(root nn.Layer, maxNorm float32) (float32, error) {
	if maxNorm <= 0 {
		return 0, fmt.Errorf("optim.ClipGradGlobalNorm: %w: max_norm %v must be positive", types.ErrInvalidArgument, maxNorm)
	}
	params := nn.NamedParameters(root)

	var sumSq float32
	for _, np := range params {
		if np.Param.Grad == nil {
			continue
		}
		for _, g := range np.Param.Grad.Data() {
			sumSq += g * g
		}
	}
	gTotal := math32.Sqrt(sumSq)
	if math32.IsNaN(gTotal) || math32.IsInf(gTotal, 0) {
		return gTotal, fmt.Errorf("optim.ClipGradGlobalNorm: %w: global grad norm is non-finite, skipping clip",
			types.ErrNumericWarning)
	}
	if gTotal <= maxNorm {
		return gTotal, nil
	}

	scale := maxNorm / (gTotal + 1e-6)
	for _, np := range params {
		if np.Param.Grad == nil {
			continue
		}
		data := np.Param.Grad.Data()
		for i := range data {
			data[i] *= scale
		}
	}
	return gTotal, nil
}
