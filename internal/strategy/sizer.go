// Package strategy turns a scored event into a paper-trade decision.
//
// The decision service runs the gate chain (freshness, score thresholds,
// direction), sizes the position with fractional Kelly, hands the proposal to
// the risk manager, and emits an immutable Decision. Approved decisions go to
// the paper queue; every decision, approved or not, is cached per token so
// the same anomaly is not re-decided within its cooldown.
package strategy

import (
	"math"

	"polysentry/internal/config"
	"polysentry/pkg/types"
)

// Sizing parameters. Edge scores translate to price edge through edgeUnit
// (a full-score edge is worth 10 points of probability).
const (
	edgeUnit      = 0.10
	varianceFloor = 0.25 // binary outcome variance p(1-p) bottoms out here
	priceFloor    = 0.01
	priceCeil     = 0.99
)

// SizeTrade computes a fractional-Kelly position for the given edge and
// price. The result is deterministic; all clamps are recorded in CapTag so
// rejected and reduced sizes are explainable afterwards.
func SizeTrade(cfg config.RiskConfig, edgeScore types.EdgeScore, price float64) types.SizingResult {
	edgeEstimate := edgeScore.Score * edgeUnit

	p := clampPrice(price)
	variance := math.Max(p*(1-p), varianceFloor)

	kellyRaw := edgeEstimate / variance
	kellyAdjusted := kellyRaw * cfg.KellyFraction

	r := types.SizingResult{
		EdgeEstimate:  edgeEstimate,
		VarianceProxy: variance,
		KellyRaw:      kellyRaw,
		KellyAdjusted: kellyAdjusted,
	}

	target := kellyAdjusted * cfg.Bankroll
	if maxBet := cfg.MaxBetFraction * cfg.Bankroll; target > maxBet {
		target = maxBet
		r.CapTag = "max_bet_fraction"
	}
	if maxPos := cfg.MaxPositionFraction * cfg.Bankroll; target > maxPos {
		target = maxPos
		r.CapTag = "max_position_fraction"
	}
	if target < cfg.MinBetUSD {
		r.CapTag = "below_min_bet_size"
		return r
	}

	r.TargetSizeUSD = target
	r.TargetShares = target / p
	return r
}

// SharesFor converts a USD size into outcome shares at the given entry
// price. A NO position is entered at the complement price.
func SharesFor(sizeUSD, price float64, side types.MarketSide) float64 {
	p := clampPrice(price)
	if side == types.SideNo {
		p = 1 - p
	}
	return sizeUSD / p
}

func clampPrice(p float64) float64 {
	return math.Min(priceCeil, math.Max(priceFloor, p))
}
