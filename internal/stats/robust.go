package stats

import (
	"math"
	"sort"
)

// madScale converts MAD to a standard-deviation-consistent estimator for
// normal data.
const madScale = 1.4826

// RobustZCap is the finite stand-in for the ±Inf z-scores produced when
// MAD is zero. Composite scoring treats anything at the cap as "extreme".
const RobustZCap = 10.0

// Median returns the median of values. Returns 0 for an empty slice.
// The input is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation around the given median.
func MAD(values []float64, median float64) float64 {
	if len(values) == 0 {
		return 0
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - median)
	}
	return Median(devs)
}

// RobustZ returns the robust z-score of x against the window:
//
//	n < 10          → 0 (not enough history to call anything unusual)
//	MAD = 0, x = med → 0
//	MAD = 0, x ≠ med → ±Inf by sign of the deviation
//	otherwise        → (x − median) / (1.4826 · MAD)
//
// Callers that feed the result into bounded scores should pass it through
// CapZ first.
func RobustZ(x float64, values []float64) float64 {
	if len(values) < 10 {
		return 0
	}
	med := Median(values)
	mad := MAD(values, med)
	if mad == 0 {
		if x == med {
			return 0
		}
		return math.Inf(sign(x - med))
	}
	return (x - med) / (madScale * mad)
}

// CapZ maps infinities (and anything beyond the cap) to ±RobustZCap.
func CapZ(z float64) float64 {
	if math.IsInf(z, 1) || z > RobustZCap {
		return RobustZCap
	}
	if math.IsInf(z, -1) || z < -RobustZCap {
		return -RobustZCap
	}
	return z
}

// PercentileRank returns the fraction of window values strictly below x,
// counting ties as half. Returns 0.5 for an empty window.
func PercentileRank(x float64, values []float64) float64 {
	if len(values) == 0 {
		return 0.5
	}
	below, equal := 0, 0
	for _, v := range values {
		switch {
		case v < x:
			below++
		case v == x:
			equal++
		}
	}
	return (float64(below) + float64(equal)/2) / float64(len(values))
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}
