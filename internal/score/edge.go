package score

import (
	"math"

	"polysentry/pkg/types"
)

// Edge estimation parameters.
const (
	// edgeDeltaScale converts anomaly evidence into a price delta: a fully
	// anomalous event moves the estimate by at most 8 points.
	edgeDeltaScale = 0.08

	// impactBoost scales the delta when measured post-trade drift agrees
	// (or disagrees) with the inferred direction.
	impactBoost = 0.25

	// edgeUnit is the |edge| that saturates the score.
	edgeUnit = 0.10

	// Direction requires a meaningful imbalance and a thin opposite side.
	directionImbalanceMin = 0.2
	directionThinOppMin   = 0.5

	// Aligned-signal gates.
	alignedCoreMin = 0.5

	probFloor = 0.01
	probCeil  = 0.99
)

// ScoreEdge estimates the mispricing implied by the anomaly evidence. The
// implied probability is the current mid; the estimate shifts it in the
// direction the book imbalance points, scaled by the anomaly core and
// adjusted by measured impact. No inferable direction means no edge.
func ScoreEdge(fv types.FeatureVector, anomaly types.AnomalyScore) types.EdgeScore {
	ob := fv.Orderbook
	if ob == nil || ob.MidPrice <= 0 {
		return types.EdgeScore{}
	}
	implied := ob.MidPrice
	es := types.EdgeScore{ImpliedProb: implied, EstimatedProb: implied}

	dir := Direction(fv)
	if dir == 0 {
		return es
	}

	delta := edgeDeltaScale * anomaly.CoreScore * float64(dir)
	impactDir := impactDirection(fv.Impact)
	if impactDir != 0 {
		if impactDir == dir {
			delta *= 1 + impactBoost
		} else {
			delta *= 1 - impactBoost
		}
	}

	estimated := math.Min(probCeil, math.Max(probFloor, implied+delta))
	edge := estimated - implied

	aligned := 0
	if anomaly.CoreScore >= alignedCoreMin {
		aligned++
	}
	if math.Abs(ob.Imbalance) >= directionImbalanceMin {
		aligned++
	}
	if impactDir == dir {
		aligned++
	}

	confidence := 0.0
	if aligned >= 1 {
		confidence = math.Min(1, 0.5+0.25*float64(aligned-1))
	}

	es.EstimatedProb = estimated
	es.Edge = edge
	es.EdgeConfidence = confidence
	es.AlignedSignals = aligned
	es.Score = clamp01(math.Abs(edge)/edgeUnit) * confidence
	return es
}

// Direction infers the trade direction from the book: +1 (toward YES) when
// bids dominate and the ask side is thin, -1 in the mirror case, 0 when the
// book gives no signal.
func Direction(fv types.FeatureVector) int {
	ob := fv.Orderbook
	if ob == nil {
		return 0
	}
	if math.Abs(ob.Imbalance) < directionImbalanceMin || ob.ThinOppositeScore < directionThinOppMin {
		return 0
	}
	if ob.Imbalance > 0 {
		return 1
	}
	return -1
}

func impactDirection(impact *types.ImpactFeature) int {
	if impact == nil {
		return 0
	}
	drift := impact.Drift30s
	if !impact.Measured30s {
		drift = impact.Drift60s
	}
	switch {
	case drift > 0:
		return 1
	case drift < 0:
		return -1
	default:
		return 0
	}
}
