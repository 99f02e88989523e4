package score

import (
	"math"

	"polysentry/pkg/types"
)

// Execution sub-score weights and bounds.
const (
	execDepthWeight  = 0.35
	execSpreadWeight = 0.35
	execVolWeight    = 0.15
	execTimeWeight   = 0.15

	// Spread is free below spreadFloorBps and hopeless at spreadCeilBps.
	spreadFloorBps = 10.0
	spreadCeilBps  = 500.0

	maxSlippageBps = 1000.0
)

// ScoreExecution rates how cleanly a target order of the given USD size could
// be worked into the current book. Without an orderbook feature the market is
// untradeable and everything is zero.
func ScoreExecution(fv types.FeatureVector, targetSizeUSD float64) types.ExecutionScore {
	ob := fv.Orderbook
	if ob == nil || ob.MidPrice <= 0 {
		return types.ExecutionScore{}
	}
	if targetSizeUSD <= 0 {
		targetSizeUSD = 1
	}

	minDepth := math.Min(ob.BidDepthUSD, ob.AskDepthUSD)

	// Saturates once the thinner side holds twice the target size.
	depthScore := clamp01(minDepth / (2 * targetSizeUSD))

	spreadScore := 1 - clamp01((ob.SpreadBps-spreadFloorBps)/(spreadCeilBps-spreadFloorBps))

	// A lopsided book or a wide spread both signal an unstable price.
	volatilityScore := clamp01(1 - 0.5*math.Abs(ob.Imbalance) - 0.5*clamp01(ob.SpreadBps/maxSlippageBps))

	ramp := fv.RampMultiplier
	if ramp < 1 {
		ramp = 1
	}
	timeScore := 1 / ramp

	slippage := math.Min(maxSlippageBps,
		ob.SpreadBps/2+100*targetSizeUSD/math.Max(minDepth, 1))

	s := execDepthWeight*depthScore +
		execSpreadWeight*spreadScore +
		execVolWeight*volatilityScore +
		execTimeWeight*timeScore

	return types.ExecutionScore{
		Score:           clamp01(s),
		DepthScore:      depthScore,
		SpreadScore:     spreadScore,
		VolatilityScore: volatilityScore,
		TimeScore:       timeScore,
		SlippageBps:     slippage,
		FillProbability: clamp01(0.6*depthScore + 0.4*spreadScore),
	}
}
