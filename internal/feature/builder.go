// Package feature assembles the per-event feature vector the scorers consume.
//
// For each emitted event (a normalized trade, or a scheduled orderbook tick)
// the builder combines the latest book state, the rolling 60m trade window,
// wallet enrichment, post-trade impact sampling, and the per-token estimator
// state into one FeatureVector. Sub-features that cannot be computed from the
// available data are left nil; the scorer treats them as absent.
package feature

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"polysentry/internal/freshness"
	"polysentry/internal/stats"
	"polysentry/internal/store"
	"polysentry/pkg/types"
)

const (
	// Ramp parameters: multiplier grows as the market approaches close,
	// capped at rampMaxMult.
	rampAlpha   = 2.0
	rampBeta    = 0.1 // per hour
	rampMaxMult = 5.0

	// noTradeZoneSec is the window before close where decisions are blocked.
	noTradeZoneSec = 120

	// burstFactor is the intensity-over-baseline ratio that counts as a burst.
	burstFactor = 2.0

	// impactToleranceMs bounds how far from the +30s/+60s targets a book
	// snapshot may be and still be used for drift measurement.
	impactToleranceMs = 1000
)

// WalletSource resolves a taker address to an enriched profile.
type WalletSource interface {
	Enrich(ctx context.Context, address string) (types.WalletProfile, error)
}

// Event is one unit of work on the features queue.
type Event struct {
	Kind        string       `json:"type"` // "trade" or "orderbook"
	TokenID     string       `json:"tokenId"`
	ConditionID string       `json:"conditionId"`
	Timestamp   int64        `json:"timestamp"` // epoch ms
	Trade       *types.Trade `json:"trade,omitempty"`
}

// Builder constructs feature vectors from store-held state.
type Builder struct {
	store   store.Store
	wallets WalletSource
	fresh   *freshness.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

func NewBuilder(s store.Store, wallets WalletSource, fresh *freshness.Tracker, logger *slog.Logger) *Builder {
	return &Builder{
		store:   s,
		wallets: wallets,
		fresh:   fresh,
		logger:  logger.With("component", "feature_builder"),
		now:     time.Now,
	}
}

// Build assembles the feature vector for one event and caches it under
// features:{token}:latest.
func (b *Builder) Build(ctx context.Context, evt Event) (types.FeatureVector, error) {
	nowMs := b.now().UnixMilli()
	fv := types.FeatureVector{
		TokenID:     evt.TokenID,
		ConditionID: evt.ConditionID,
		Timestamp:   evt.Timestamp,
	}
	fv.ChangePoint.ChangePointIndex = -1

	bookState := b.loadBookState(ctx, evt.TokenID)
	if bookState != nil {
		fv.Orderbook = orderbookFeature(bookState.Metrics)
		fv.BookAgeMs = nowMs - bookState.Snapshot.Timestamp
	}

	if evt.Trade != nil {
		windowSizes := b.loadWindowNotionals(ctx, evt.TokenID)
		fv.TradeSize = b.tradeSizeFeature(ctx, evt.TokenID, *evt.Trade, windowSizes)
		fv.Wallet = b.walletFeature(ctx, evt.Trade.TakerAddress, nowMs)
		fv.Impact = b.impactFeature(ctx, evt.TokenID, *evt.Trade)
	}

	fv.Burst = b.burstFeature(ctx, evt.TokenID, evt.Timestamp)
	fv.ChangePoint = b.changePointFeature(ctx, evt.TokenID)

	b.fillTimeToClose(ctx, &fv, nowMs)
	b.fillFreshness(ctx, &fv)

	if data, err := json.Marshal(fv); err == nil {
		if err := b.store.Set(ctx, store.FeaturesLatestKey(evt.TokenID), string(data), store.StateTTL); err != nil {
			b.logger.Warn("cache features failed", "token", evt.TokenID, "error", err)
		}
	}
	return fv, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orderbook
// ————————————————————————————————————————————————————————————————————————

func (b *Builder) loadBookState(ctx context.Context, tokenID string) *types.BookState {
	raw, ok, err := b.store.Get(ctx, store.BookStateKey(tokenID))
	if err != nil || !ok {
		return nil
	}
	var state types.BookState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		b.logger.Warn("corrupt book state", "token", tokenID, "error", err)
		return nil
	}
	return &state
}

func orderbookFeature(m types.BookMetrics) *types.OrderbookFeature {
	return &types.OrderbookFeature{
		BidDepthUSD:        m.BidDepth10,
		AskDepthUSD:        m.AskDepth10,
		Imbalance:          m.Imbalance,
		BookImbalanceScore: sigmoidLike(math.Abs(m.Imbalance)),
		ThinSide:           m.ThinSide,
		ThinOppositeScore:  clamp01(1 - m.ThinSideRatio),
		SpreadBps:          m.SpreadBps,
		MidPrice:           m.MidPrice,
		DepthAdequate:      m.DepthAdequate,
	}
}

// sigmoidLike maps |imbalance| onto [0, 1] with a soft knee around 0.4:
// balanced books score near zero, a 0.6 imbalance already scores ≈ 0.83.
func sigmoidLike(x float64) float64 {
	return 1 / (1 + math.Exp(-8*(x-0.4)))
}

// ————————————————————————————————————————————————————————————————————————
// Trade size
// ————————————————————————————————————————————————————————————————————————

func (b *Builder) loadWindowNotionals(ctx context.Context, tokenID string) []float64 {
	members, err := b.store.ZRangeByScore(ctx, store.TradeWindowKey(tokenID), math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil
	}
	notionals := make([]float64, 0, len(members))
	for _, m := range members {
		var tr types.Trade
		if err := json.Unmarshal([]byte(m.Member), &tr); err != nil {
			continue
		}
		notionals = append(notionals, tr.NotionalUSD())
	}
	return notionals
}

func (b *Builder) tradeSizeFeature(ctx context.Context, tokenID string, tr types.Trade, window []float64) *types.TradeSizeFeature {
	notional := tr.NotionalUSD()
	z := stats.CapZ(stats.RobustZ(notional, window))
	pct := stats.PercentileRank(notional, window)

	feat := &types.TradeSizeFeature{
		SizeUSD:       notional,
		RobustZ:       z,
		Percentile:    pct,
		SizeTailScore: statisticalTail(z, pct) * dollarFloorMultiplier(notional),
		WindowCount:   len(window),
	}

	b.writeRollingStats(ctx, tokenID, window)
	return feat
}

// statisticalTail blends the robust-z and percentile views of how extreme the
// trade is: either a z-score well past 2σ or a rank deep in the top decile
// pushes the tail toward 1.
func statisticalTail(z, percentile float64) float64 {
	zComponent := clamp01((z - 2) / (stats.RobustZCap - 2))
	pctComponent := clamp01((percentile - 0.90) / 0.099)
	return math.Max(zComponent, pctComponent)
}

// dollarFloorMultiplier discounts statistically extreme but economically
// small trades: a $300 trade can be a 10σ outlier in a quiet market without
// meaning anything.
func dollarFloorMultiplier(notionalUSD float64) float64 {
	switch {
	case notionalUSD < 5_000:
		return 0
	case notionalUSD < 10_000:
		return 0.5
	case notionalUSD < 25_000:
		return 0.75
	default:
		return 1.0
	}
}

func (b *Builder) writeRollingStats(ctx context.Context, tokenID string, window []float64) {
	rolling := stats.ComputeRolling(window)
	data, err := json.Marshal(rolling)
	if err != nil {
		return
	}
	if err := b.store.Set(ctx, store.RollingStatsKey(tokenID), string(data), store.MetadataTTL); err != nil {
		b.logger.Warn("cache rolling stats failed", "token", tokenID, "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Wallet
// ————————————————————————————————————————————————————————————————————————

// Activity gate normalizers: a wallet at or beyond these levels is
// established and scores 0 on that gate.
const (
	tradesNormalizer  = 100.0
	marketsNormalizer = 20.0
	volumeNormalizer  = 10_000.0
)

func (b *Builder) walletFeature(ctx context.Context, address string, nowMs int64) *types.WalletFeature {
	if address == "" {
		return nil
	}
	profile, err := b.wallets.Enrich(ctx, address)
	if err != nil {
		return nil
	}

	age := profile.AgeDays(nowMs)
	return &types.WalletFeature{
		Address:       address,
		AgeDays:       age,
		NewScore:      walletNewScore(age),
		ActivityScore: walletActivityScore(profile),
		AgeUnknown:    age < 0,
	}
}

// walletNewScore steps down with account age; unknown age scores neutrally.
func walletNewScore(ageDays float64) float64 {
	switch {
	case ageDays < 0:
		return 0.5
	case ageDays < 7:
		return 1.0
	case ageDays < 30:
		return 0.7
	case ageDays < 180:
		return 0.3
	default:
		return 0.0
	}
}

// walletActivityScore is high for wallets with little venue history.
func walletActivityScore(p types.WalletProfile) float64 {
	tradesGate := math.Max(0, 1-float64(p.TradeCount)/tradesNormalizer)
	marketsGate := math.Max(0, 1-float64(p.MarketsTraded)/marketsNormalizer)
	volumeGate := math.Max(0, 1-p.TotalVolume/volumeNormalizer)
	return 0.4*tradesGate + 0.3*marketsGate + 0.3*volumeGate
}

// ————————————————————————————————————————————————————————————————————————
// Impact
// ————————————————————————————————————————————————————————————————————————

// impactFeature measures mid drift at +30s and +60s after the trade against
// the mid at trade time, best effort from the book window. Nil when the
// baseline or both targets are unmeasurable.
func (b *Builder) impactFeature(ctx context.Context, tokenID string, tr types.Trade) *types.ImpactFeature {
	members, err := b.store.ZRangeByScore(ctx, store.BookWindowKey(tokenID),
		float64(tr.Timestamp-impactToleranceMs), float64(tr.Timestamp+61_000))
	if err != nil || len(members) == 0 {
		return nil
	}

	type midPoint struct {
		ts  int64
		mid float64
	}
	points := make([]midPoint, 0, len(members))
	for _, m := range members {
		var state types.BookState
		if err := json.Unmarshal([]byte(m.Member), &state); err != nil {
			continue
		}
		if state.Metrics.TwoSided {
			points = append(points, midPoint{ts: state.Snapshot.Timestamp, mid: state.Metrics.MidPrice})
		}
	}

	midNear := func(targetMs int64) (float64, bool) {
		best, bestDist := 0.0, int64(impactToleranceMs+1)
		for _, p := range points {
			dist := p.ts - targetMs
			if dist < 0 {
				dist = -dist
			}
			if dist < bestDist {
				best, bestDist = p.mid, dist
			}
		}
		return best, bestDist <= impactToleranceMs
	}

	baseline, ok := midNear(tr.Timestamp)
	if !ok || baseline <= 0 {
		return nil
	}
	mid30, ok30 := midNear(tr.Timestamp + 30_000)
	mid60, ok60 := midNear(tr.Timestamp + 60_000)
	if !ok30 && !ok60 {
		return nil
	}

	feat := &types.ImpactFeature{Measured30s: ok30, Measured60s: ok60}
	if ok30 {
		feat.Drift30s = (mid30 - baseline) / baseline
	}
	if ok60 {
		feat.Drift60s = (mid60 - baseline) / baseline
	}
	feat.ImpactScore = clamp01(math.Max(math.Abs(feat.Drift30s), math.Abs(feat.Drift60s)) / 0.05)
	return feat
}

// ————————————————————————————————————————————————————————————————————————
// Estimator queries
// ————————————————————————————————————————————————————————————————————————

func (b *Builder) burstFeature(ctx context.Context, tokenID string, tMs int64) types.BurstFeature {
	h := stats.NewHawkes(stats.DefaultHawkesBaseline, stats.DefaultHawkesAlpha, stats.DefaultHawkesBeta)
	if raw, ok, err := b.store.Get(ctx, store.HawkesKey(tokenID)); err == nil && ok {
		if restored, err := stats.DeserializeHawkes(raw); err == nil {
			h = restored
		}
	}

	intensity := h.CurrentIntensity(tMs)
	return types.BurstFeature{
		Intensity:        intensity,
		Baseline:         h.Baseline,
		IntensityPerHour: intensity * 3600,
		IsBurst:          h.IsBurst(tMs, burstFactor),
		BurstScore:       h.BurstScore(tMs),
	}
}

// changePointFeature reads the size and spread CUSUM states and keeps the
// stronger signal.
func (b *Builder) changePointFeature(ctx context.Context, tokenID string) types.ChangePointFeature {
	best := types.ChangePointFeature{ChangePointIndex: -1}
	for _, metric := range []string{"size", "spread"} {
		raw, ok, err := b.store.Get(ctx, store.CUSUMKey(tokenID, metric))
		if err != nil || !ok {
			continue
		}
		c, err := stats.DeserializeCUSUM(raw)
		if err != nil {
			continue
		}
		res := c.Result()
		score := 0.0
		if c.Threshold > 0 {
			score = clamp01(res.Statistic / c.Threshold)
		}
		if score > best.Score || (res.Detected && !best.Detected) {
			best = types.ChangePointFeature{
				Detected:         res.Detected,
				Statistic:        res.Statistic,
				ChangePointIndex: res.ChangePointIndex,
				Score:            score,
			}
		}
	}
	return best
}

// ————————————————————————————————————————————————————————————————————————
// Time and freshness
// ————————————————————————————————————————————————————————————————————————

func (b *Builder) fillTimeToClose(ctx context.Context, fv *types.FeatureVector, nowMs int64) {
	fv.RampMultiplier = 1

	raw, ok, err := b.store.Get(ctx, store.MarketMetadataKey(fv.ConditionID))
	if err != nil || !ok {
		return
	}
	var md types.MarketMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return
	}
	end := md.EndTime()
	if end.IsZero() {
		return
	}

	ttcSec := float64(end.UnixMilli()-nowMs) / 1000
	fv.TimeToCloseSec = ttcSec
	fv.InNoTradeZone = ttcSec > 0 && ttcSec <= noTradeZoneSec
	if ttcSec > 0 {
		ttcHours := ttcSec / 3600
		fv.RampMultiplier = math.Min(rampMaxMult, 1+rampAlpha*math.Exp(-rampBeta*ttcHours))
	}
}

func (b *Builder) fillFreshness(ctx context.Context, fv *types.FeatureVector) {
	if book, err := b.fresh.Check(ctx, freshness.KindOrderbook, fv.TokenID); err == nil {
		if book.AgeMs >= 0 {
			fv.BookAgeMs = book.AgeMs
		}
		fv.DataStale = !book.TradeSafe()
	}
	if trade, err := b.fresh.Check(ctx, freshness.KindTrade, fv.TokenID); err == nil && trade.AgeMs >= 0 {
		fv.TradeAgeMs = trade.AgeMs
		if trade.Status != freshness.StatusUnknown && !trade.TradeSafe() {
			fv.DataStale = true
		}
	}
	fv.DataComplete = fv.TradeSize != nil && fv.Orderbook != nil && fv.Wallet != nil
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
