package anomaly

import (
	"math"
	"sort"
)

// minStd replaces a zero standard deviation so z-scores stay finite
const minStd = 1.0

// meanStd returns the per-feature mean and population standard deviation.
func meanStd(vectors []Vector) (means, stds Vector) {
	n := float64(len(vectors))
	if n == 0 {
		for i := range stds {
			stds[i] = minStd
		}
		return means, stds
	}

	for _, v := range vectors {
		for i := range v {
			means[i] += v[i]
		}
	}
	for i := range means {
		means[i] /= n
	}

	for _, v := range vectors {
		for i := range v {
			d := v[i] - means[i]
			stds[i] += d * d
		}
	}
	for i := range stds {
		stds[i] = math.Sqrt(stds[i] / n)
		if stds[i] == 0 {
			stds[i] = minStd
		}
	}
	return means, stds
}

// percentile returns the element at floor(p*n) of the sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(p * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// column extracts feature f from every vector, sorted ascending.
func column(vectors []Vector, f int) []float64 {
	col := make([]float64, len(vectors))
	for i, v := range vectors {
		col[i] = v[f]
	}
	sort.Float64s(col)
	return col
}
