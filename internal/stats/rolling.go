package stats

import (
	"math"
	"sort"
)

// Rolling summarizes a window of observations. Computed fresh from the trade
// window on each feature build; cached under stats:{token}:rolling:60m.
type Rolling struct {
	Count    int     `json:"count"`
	Sum      float64 `json:"sum"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	MAD      float64 `json:"mad"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"stdDev"`
}

// ComputeRolling derives window statistics from values. A nil or empty input
// yields the zero Rolling.
func ComputeRolling(values []float64) Rolling {
	n := len(values)
	if n == 0 {
		return Rolling{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	variance := 0.0
	if n > 1 {
		variance = sqDiff / float64(n-1)
	}

	med := Median(sorted)
	return Rolling{
		Count:    n,
		Sum:      sum,
		Mean:     mean,
		Median:   med,
		MAD:      MAD(sorted, med),
		Min:      sorted[0],
		Max:      sorted[n-1],
		Variance: variance,
		StdDev:   math.Sqrt(variance),
	}
}
