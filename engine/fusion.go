package engine

import (
	"math"
	"sort"
)

// Fused is the output of order-statistic fusion over one set of values.
type Fused struct {
	Estimate float64
	Status   ResultStatus
	Spread   float64
	Used     int
}

// Fuse combines values with an f-trimmed mean: sort, discard the lowest f and
// highest f, average the rest. With fewer than 2f+1 values the result is
// Degraded and carries the plain median; with none it is NoQuorum and NaN.
// The input slice is not modified and equal inputs give bit-identical output.
func Fuse(values []float64, maxFaulty int) Fused {
	n := len(values)
	if n == 0 {
		return Fused{Estimate: math.NaN(), Status: StatusNoQuorum}
	}
	if maxFaulty < 0 {
		maxFaulty = 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	out := Fused{
		Spread: sorted[n-1] - sorted[0],
		Used:   n,
	}

	if n < 2*maxFaulty+1 {
		out.Status = StatusDegraded
		out.Estimate = Median(sorted)
		return out
	}

	out.Status = StatusTrusted
	out.Estimate = TrimmedMean(sorted, maxFaulty)
	return out
}

// TrimmedMean averages sorted[f : n-f]. The input must be sorted and hold at
// least 2f+1 values.
func TrimmedMean(sorted []float64, f int) float64 {
	rest := sorted[f : len(sorted)-f]
	if len(rest) == 1 {
		return rest[0]
	}
	var sum float64
	for _, v := range rest {
		sum += v
	}
	return sum / float64(len(rest))
}

// Median returns the middle of a sorted slice, or the mean of the two middle
// values for an even count.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Confidence scores a result between 0 and 1 from sensor coverage and spread.
func Confidence(status ResultStatus, used, configured int, spread, tolerance float64) float64 {
	if status == StatusNoQuorum || used == 0 || configured == 0 {
		return 0
	}
	coverage := float64(used) / float64(configured)
	if coverage > 1 {
		coverage = 1
	}
	agreement := 1.0
	if spread > tolerance && spread > 0 {
		agreement = tolerance / spread
	}
	return coverage * agreement
}
