package score

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"polysentry/internal/store"
	"polysentry/pkg/types"
)

// Composite weights and signal-strength cutoffs over the ramped composite.
const (
	compositeAnomalyWeight   = 0.35
	compositeExecutionWeight = 0.25
	compositeEdgeWeight      = 0.40

	cutoffWeak     = 0.35
	cutoffModerate = 0.55
	cutoffStrong   = 0.75
	cutoffExtreme  = 0.85
)

// Scorer runs the three axes over a feature vector and caches the result.
type Scorer struct {
	store         store.Store
	targetSizeUSD float64 // reference order size for execution scoring
	logger        *slog.Logger
	now           func() time.Time
}

func NewScorer(s store.Store, targetSizeUSD float64, logger *slog.Logger) *Scorer {
	return &Scorer{
		store:         s,
		targetSizeUSD: targetSizeUSD,
		logger:        logger.With("component", "scorer"),
		now:           time.Now,
	}
}

// Score computes the full score set for one feature vector and caches it
// under scores:{token}:latest.
func (s *Scorer) Score(ctx context.Context, fv types.FeatureVector) types.ScoreSet {
	set := Compute(fv, s.targetSizeUSD)

	if data, err := json.Marshal(set); err == nil {
		if err := s.store.Set(ctx, store.ScoresLatestKey(fv.TokenID), string(data), store.StateTTL); err != nil {
			s.logger.Warn("cache scores failed", "token", fv.TokenID, "error", err)
		}
	}

	if set.Anomaly.Triggered {
		s.logger.Info("anomaly triggered",
			"token", fv.TokenID,
			"score", set.Anomaly.Score,
			"composite", set.Composite,
			"strength", set.SignalStrength,
			"triple_signal", set.Anomaly.TripleSignal,
		)
	}
	return set
}

// Compute is the pure scoring function.
func Compute(fv types.FeatureVector, targetSizeUSD float64) types.ScoreSet {
	anomaly := ScoreAnomaly(fv)
	execution := ScoreExecution(fv, targetSizeUSD)
	edge := ScoreEdge(fv, anomaly)

	composite := compositeAnomalyWeight*anomaly.Score +
		compositeExecutionWeight*execution.Score +
		compositeEdgeWeight*edge.Score

	ramp := fv.RampMultiplier
	if ramp < 1 {
		ramp = 1
	}
	ramped := math.Min(1, composite*ramp)

	return types.ScoreSet{
		TokenID:        fv.TokenID,
		ConditionID:    fv.ConditionID,
		Timestamp:      fv.Timestamp,
		Anomaly:        anomaly,
		Execution:      execution,
		Edge:           edge,
		Composite:      composite,
		Ramped:         ramped,
		SignalStrength: strengthFor(ramped),
	}
}

func strengthFor(ramped float64) types.SignalStrength {
	switch {
	case ramped >= cutoffExtreme:
		return types.SignalExtreme
	case ramped >= cutoffStrong:
		return types.SignalStrong
	case ramped >= cutoffModerate:
		return types.SignalModerate
	case ramped >= cutoffWeak:
		return types.SignalWeak
	default:
		return types.SignalNone
	}
}
