package losses

import "github.com/chewxy/math32"

// RewardNormalization selects how raw rewards are rescaled before the
// group-relative advantage is computed.
type RewardNormalization int

const (
	RewardNormNone RewardNormalization = iota
	RewardNormStandardize
	RewardNormMinMax
	RewardNormStandardizeClip3
)

// normalizeRewards applies norm independently to each group (row) of a
// [B, K] reward matrix.
func normalizeRewards(rewards [][]float32, norm RewardNormalization) [][]float32 {
	out := make([][]float32, len(rewards))
	for i, row := range rewards {
		out[i] = normalizeRow(row, norm)
	}
	return out
}

func normalizeRow(row []float32, norm RewardNormalization) []float32 {
	out := make([]float32, len(row))
	switch norm {
	case RewardNormStandardize, RewardNormStandardizeClip3:
		mean, std := meanStd(row)
		for i, r := range row {
			z := (r - mean) / (std + 1e-8)
			if norm == RewardNormStandardizeClip3 {
				z = clipFloat(z, -3, 3)
			}
			out[i] = z
		}
	case RewardNormMinMax:
		lo, hi := minMax(row)
		spread := hi - lo
		for i, r := range row {
			if spread == 0 {
				out[i] = 0
				continue
			}
			out[i] = (r - lo) / spread
		}
	default: // RewardNormNone and any unrecognized value
		copy(out, row)
	}
	return out
}

// groupRelativeAdvantages subtracts each group's (row's) own mean from
// its members, so every row sums to zero by construction.
func groupRelativeAdvantages(rTilde [][]float32) [][]float32 {
	out := make([][]float32, len(rTilde))
	for i, row := range rTilde {
		mean, _ := meanStd(row)
		adv := make([]float32, len(row))
		for j, r := range row {
			adv[j] = r - mean
		}
		out[i] = adv
	}
	return out
}

// normalizeAdvantagesBatchWide divides every advantage by the standard
// deviation computed across the whole [B, K] grid, leaving each group's
// zero-sum property intact (dividing by a positive scalar doesn't move
// the sum away from zero).
func normalizeAdvantagesBatchWide(adv [][]float32) [][]float32 {
	flat := make([]float32, 0, len(adv)*len(adv[0]))
	for _, row := range adv {
		flat = append(flat, row...)
	}
	_, std := meanStd(flat)
	out := make([][]float32, len(adv))
	for i, row := range adv {
		scaled := make([]float32, len(row))
		for j, a := range row {
			scaled[j] = a / (std + 1e-8)
		}
		out[i] = scaled
	}
	return out
}

// groupMeans returns the raw mean reward of every group (row), used only
// by the optional group-contrast term.
func groupMeans(rewards [][]float32) []float32 {
	out := make([]float32, len(rewards))
	for i, row := range rewards {
		out[i], _ = meanStd(row)
	}
	return out
}

// groupContrastPenalty sums |groupMean_i - groupMean_j| over every
// distinct pair, averaged over the number of pairs so it doesn't grow
// with batch size.
func groupContrastPenalty(means []float32) float32 {
	n := len(means)
	if n < 2 {
		return 0
	}
	var sum float32
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += math32.Abs(means[i] - means[j])
			pairs++
		}
	}
	return sum / float32(pairs)
}

func meanStd(row []float32) (mean, std float32) {
	if len(row) == 0 {
		return 0, 0
	}
	var sum float32
	for _, r := range row {
		sum += r
	}
	mean = sum / float32(len(row))
	var sumSq float32
	for _, r := range row {
		d := r - mean
		sumSq += d * d
	}
	std = math32.Sqrt(sumSq / float32(len(row)))
	return mean, std
}

func minMax(row []float32) (lo, hi float32) {
	if len(row) == 0 {
		return 0, 0
	}
	lo, hi = row[0], row[0]
	for _, r := range row[1:] {
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	return lo, hi
}

func clipFloat(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
