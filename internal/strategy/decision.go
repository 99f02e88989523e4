package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"polysentry/internal/config"
	"polysentry/internal/freshness"
	"polysentry/internal/risk"
	"polysentry/internal/score"
	"polysentry/internal/store"
	"polysentry/pkg/types"
)

// decisionLifetime bounds how long an approved decision may sit in the paper
// queue before it is considered stale and dropped.
const decisionLifetime = 30 * time.Second

// Decider runs the full gate chain for one scored event and produces an
// immutable Decision.
type Decider struct {
	store   store.Store
	fresh   *freshness.Tracker
	risk    *risk.Manager
	scoring config.ScoringConfig
	riskCfg config.RiskConfig

	paperMode bool
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewDecider(
	s store.Store,
	fresh *freshness.Tracker,
	riskMgr *risk.Manager,
	scoring config.ScoringConfig,
	riskCfg config.RiskConfig,
	paperMode bool,
	logger *slog.Logger,
) *Decider {
	return &Decider{
		store:     s,
		fresh:     fresh,
		risk:      riskMgr,
		scoring:   scoring,
		riskCfg:   riskCfg,
		paperMode: paperMode,
		logger:    logger.With("component", "decider"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Decide evaluates one scored event. The returned decision is cached per
// token for DecisionTTL so repeated anomalies on the same token within the
// cooldown return the original decision instead of stacking entries.
func (d *Decider) Decide(ctx context.Context, fv types.FeatureVector, scores types.ScoreSet) (types.Decision, error) {
	if cached, ok, err := d.cachedDecision(ctx, fv.TokenID); err != nil {
		return types.Decision{}, err
	} else if ok {
		return cached, nil
	}

	dec, err := d.evaluate(ctx, fv, scores)
	if err != nil {
		return types.Decision{}, err
	}

	if data, merr := json.Marshal(dec); merr == nil {
		if serr := d.store.Set(ctx, store.DecisionCacheKey(fv.TokenID), string(data), store.DecisionTTL); serr != nil {
			d.logger.Warn("cache decision failed", "token", fv.TokenID, "error", serr)
		}
	}

	if dec.Approved {
		d.logger.Info("decision approved",
			"token", dec.TokenID,
			"action", dec.Action,
			"side", dec.Side,
			"size_usd", dec.TargetSizeUSD,
			"limit_price", dec.LimitPrice,
		)
	} else {
		d.logger.Debug("decision rejected",
			"token", dec.TokenID,
			"reason", dec.RejectionReason,
		)
	}
	return dec, nil
}

func (d *Decider) evaluate(ctx context.Context, fv types.FeatureVector, scores types.ScoreSet) (types.Decision, error) {
	dec := d.baseDecision(fv, scores)

	tf, err := d.fresh.CheckToken(ctx, fv.TokenID, fv.ConditionID)
	if err != nil {
		return dec, fmt.Errorf("freshness check: %w", err)
	}
	if !tf.OK {
		if !tf.MarketKnown {
			return d.rejected(dec, types.RejectMarketDataMissing), nil
		}
		return d.rejected(dec, types.RejectStaleData), nil
	}

	if scores.Anomaly.Score < d.scoring.MinAnomalyScore {
		return d.rejected(dec, types.RejectBelowAnomaly), nil
	}
	if scores.Execution.Score < d.scoring.MinExecutionScore {
		return d.rejected(dec, types.RejectBelowExecution), nil
	}
	if math.Abs(scores.Edge.Edge) < d.scoring.MinEdge {
		return d.rejected(dec, types.RejectBelowEdge), nil
	}

	dir := score.Direction(fv)
	if dir == 0 {
		return d.rejected(dec, types.RejectRiskCheckFailed), nil
	}

	book, ok, err := d.loadBook(ctx, fv.TokenID)
	if err != nil {
		return dec, err
	}
	if !ok || !book.Metrics.TwoSided {
		return d.rejected(dec, types.RejectMarketDataMissing), nil
	}

	// Entries cross the book: buy YES at the ask, sell (buy NO) at the bid.
	if dir > 0 {
		dec.Action = types.ActionBuy
		dec.Side = types.SideYes
		dec.TargetPrice = book.Metrics.BestAsk
	} else {
		dec.Action = types.ActionSell
		dec.Side = types.SideNo
		dec.TargetPrice = book.Metrics.BestBid
	}

	sizing := SizeTrade(d.riskCfg, scores.Edge, dec.TargetPrice)
	dec.Sizing = &sizing
	if sizing.TargetSizeUSD <= 0 {
		return d.rejected(dec, types.RejectRiskCheckFailed), nil
	}

	verdict, err := d.risk.Check(ctx, risk.CheckInput{
		TokenID:         fv.TokenID,
		TimeToCloseSec:  fv.TimeToCloseSec,
		BookAgeMs:       fv.BookAgeMs,
		SpreadBps:       book.Metrics.SpreadBps,
		MinDepthUSD:     math.Min(book.Metrics.BidDepth10, book.Metrics.AskDepth10),
		ProposedSizeUSD: sizing.TargetSizeUSD,
	})
	if err != nil {
		return dec, fmt.Errorf("risk check: %w", err)
	}
	dec.RiskChecksPassed = verdict.ChecksPassed
	if !verdict.Approved {
		return d.rejected(dec, types.RejectRiskCheckFailed), nil
	}

	dec.TargetSizeUSD = verdict.SizeUSD
	if verdict.SizeUSD != sizing.TargetSizeUSD {
		sizing.TargetSizeUSD = verdict.SizeUSD
		sizing.TargetShares = SharesFor(verdict.SizeUSD, dec.TargetPrice, dec.Side)
		if verdict.CapTag != "" {
			sizing.CapTag = verdict.CapTag
		}
	}

	dec.LimitPrice = limitFor(dec.Action, dec.TargetPrice, book.Metrics.Spread)
	dec.Approved = true
	return dec, nil
}

func (d *Decider) baseDecision(fv types.FeatureVector, scores types.ScoreSet) types.Decision {
	nowMs := d.now().UnixMilli()
	return types.Decision{
		ID:          d.newID(),
		TokenID:     fv.TokenID,
		ConditionID: fv.ConditionID,
		Timestamp:   fv.Timestamp,
		Action:      types.ActionNoTrade,
		Scores:      scores,
		Features:    fv,
		CreatedAt:   nowMs,
		ExpiresAt:   nowMs + decisionLifetime.Milliseconds(),
		PaperMode:   d.paperMode,
	}
}

func (d *Decider) rejected(dec types.Decision, reason types.RejectionReason) types.Decision {
	dec.Action = types.ActionNoTrade
	dec.Side = ""
	dec.Approved = false
	dec.RejectionReason = reason
	return dec
}

func (d *Decider) cachedDecision(ctx context.Context, tokenID string) (types.Decision, bool, error) {
	raw, ok, err := d.store.Get(ctx, store.DecisionCacheKey(tokenID))
	if err != nil || !ok {
		return types.Decision{}, false, err
	}
	var dec types.Decision
	if uerr := json.Unmarshal([]byte(raw), &dec); uerr != nil {
		return types.Decision{}, false, nil
	}
	return dec, true, nil
}

func (d *Decider) loadBook(ctx context.Context, tokenID string) (types.BookState, bool, error) {
	raw, ok, err := d.store.Get(ctx, store.BookStateKey(tokenID))
	if err != nil || !ok {
		return types.BookState{}, false, err
	}
	var bs types.BookState
	if uerr := json.Unmarshal([]byte(raw), &bs); uerr != nil {
		return types.BookState{}, false, nil
	}
	return bs, true, nil
}

// limitFor gives the entry a half-spread of price improvement room beyond
// the touch, clamped to valid prices.
func limitFor(action types.DecisionAction, target, spread float64) float64 {
	half := spread / 2
	if action == types.ActionBuy {
		return clampPrice(target + half)
	}
	return clampPrice(target - half)
}
