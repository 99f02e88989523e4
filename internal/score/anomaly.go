// Package score turns a feature vector into the three orthogonal scores the
// strategy gates on — anomaly (how abnormal the event is), execution (how
// tradeable the market is right now), and edge (the estimated mispricing) —
// plus their weighted composite and a signal-strength tag.
package score

import (
	"math"

	"polysentry/pkg/types"
)

// Anomaly aggregation weights. The core blends the four evidence channels;
// context (burst / change-point) tops the core up rather than carrying its
// own weight.
const (
	weightSizeTail  = 0.35
	weightOrderbook = 0.30
	weightWallet    = 0.20
	weightImpact    = 0.15
	weightContext   = 0.15

	// Inside the orderbook channel.
	bookImbalanceShare = 0.6
	thinOppositeShare  = 0.4

	// Inside the wallet channel.
	walletNewShare      = 0.6
	walletActivityShare = 0.4

	// TriggerThreshold is the anomaly score at which an event counts as
	// triggered.
	TriggerThreshold = 0.65

	// Triple-signal cutoffs: an extreme trade into a lopsided book from a
	// fresh or inactive wallet.
	tripleSizeTailMin     = 0.90
	tripleBookImbMin      = 0.70
	tripleThinOppMin      = 0.70
	tripleWalletNewMin    = 0.80
	tripleWalletActMin    = 0.70
	anomalySubFeatureSlot = 5 // confidence denominator
)

// ScoreAnomaly computes the anomaly axis from one feature vector. Missing
// sub-features contribute zero and shrink confidence.
func ScoreAnomaly(fv types.FeatureVector) types.AnomalyScore {
	var c types.AnomalyComponents
	present := 1 // burst/change-point context is always computable

	if fv.TradeSize != nil {
		c.SizeTail = clamp01(fv.TradeSize.SizeTailScore)
		present++
	}
	if fv.Orderbook != nil {
		c.BookImbalance = clamp01(fv.Orderbook.BookImbalanceScore)
		c.ThinOpposite = clamp01(fv.Orderbook.ThinOppositeScore)
		c.Orderbook = bookImbalanceShare*c.BookImbalance + thinOppositeShare*c.ThinOpposite
		present++
	}
	if fv.Wallet != nil {
		c.Wallet = clamp01(walletNewShare*fv.Wallet.NewScore + walletActivityShare*fv.Wallet.ActivityScore)
		present++
	}
	if fv.Impact != nil {
		c.Impact = clamp01(fv.Impact.ImpactScore)
		present++
	}
	c.Burst = clamp01(fv.Burst.BurstScore)
	c.ChangePoint = clamp01(fv.ChangePoint.Score)

	core := weightSizeTail*c.SizeTail +
		weightOrderbook*c.Orderbook +
		weightWallet*c.Wallet +
		weightImpact*c.Impact
	context := math.Max(c.Burst, c.ChangePoint)

	score := math.Min(1, core+weightContext*context)
	ramp := fv.RampMultiplier
	if ramp < 1 {
		ramp = 1
	}
	score = math.Min(1, score*ramp)

	// The triple-signal pattern always triggers: a marginal weighted sum
	// must not suppress the high-precision override.
	triple := tripleSignal(fv, c)
	if triple && score < TriggerThreshold {
		score = TriggerThreshold
	}

	return types.AnomalyScore{
		Score:        score,
		CoreScore:    core,
		ContextScore: context,
		Components:   c,
		Confidence:   float64(present) / anomalySubFeatureSlot,
		Triggered:    score >= TriggerThreshold,
		TripleSignal: triple,
	}
}

// tripleSignal is the high-precision pattern: extreme size into a lopsided
// book from a wallet that is either brand new or conspicuously inactive.
func tripleSignal(fv types.FeatureVector, c types.AnomalyComponents) bool {
	if fv.TradeSize == nil || fv.Orderbook == nil || fv.Wallet == nil {
		return false
	}
	return c.SizeTail >= tripleSizeTailMin &&
		c.BookImbalance >= tripleBookImbMin &&
		c.ThinOpposite >= tripleThinOppMin &&
		(fv.Wallet.NewScore >= tripleWalletNewMin || fv.Wallet.ActivityScore >= tripleWalletActMin)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
