// Package risk is the final gate in front of the paper book.
//
// Guards run in a fixed order and short-circuit on the first rejection:
//
//  1. Circuit breaker: a latched breaker (daily loss, drawdown, consecutive
//     losses) blocks everything for 24h. Breakers arm with a warning at 80%
//     of their limit and latch in the store, so every worker sees them.
//  2. No-trade zone: nothing opens inside the final 120s before close.
//  3. Market quality: stale book, excessive spread, insufficient depth.
//  4. Size limits: the proposed size is clamped against the single-bet cap,
//     per-token position headroom, and total exposure headroom. A partial
//     clamp is a warning; zero headroom is a rejection.
//
// All counters live in the store, never in process memory.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"polysentry/internal/config"
	"polysentry/internal/store"
)

// Market-quality guard limits.
const (
	noTradeZoneSec = 120.0
	maxBookAgeMs   = 10_000
	maxSpreadBps   = 500.0
	minDepthUSD    = 100.0

	// Breakers warn once they cross this fraction of their limit.
	breakerWarnFraction = 0.8
)

// Rejection tags carried on a blocked decision.
const (
	ReasonCircuitBreaker    = "circuit_breaker_active"
	ReasonDailyLoss         = "daily_loss"
	ReasonMaxDrawdown       = "max_drawdown"
	ReasonConsecutiveLosses = "consecutive_losses"
	ReasonNoTradeZone       = "no_trade_zone"
	ReasonStaleBook         = "stale_book_data"
	ReasonSpreadTooWide     = "spread_too_wide"
	ReasonInsufficientDepth = "insufficient_depth"
	ReasonPositionLimit     = "position_limit_exceeded"
	ReasonExposureLimit     = "exposure_limit_exceeded"
	ReasonBelowMinBet       = "below_min_bet_size"
)

// CheckInput is everything the guards need about one proposed trade.
type CheckInput struct {
	TokenID         string
	TimeToCloseSec  float64 // 0 = close time unknown
	BookAgeMs       int64   // -1 = no record
	SpreadBps       float64
	MinDepthUSD     float64 // thinner side of the book
	ProposedSizeUSD float64
}

// Verdict is the guard outcome. SizeUSD is the proposal after clamping and
// is only meaningful when Approved.
type Verdict struct {
	Approved     bool
	SizeUSD      float64
	Rejection    string
	CapTag       string
	ChecksPassed []string
	Warnings     []string
}

// Manager evaluates the guard chain against store-backed risk state.
type Manager struct {
	store  store.Store
	cfg    config.RiskConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(s store.Store, cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:  s,
		cfg:    cfg,
		logger: logger.With("component", "risk"),
		now:    time.Now,
	}
}

// Check runs the guard chain. A store error fails closed: the trade is
// rejected rather than waved through on unknown state.
func (m *Manager) Check(ctx context.Context, in CheckInput) (Verdict, error) {
	v := Verdict{SizeUSD: in.ProposedSizeUSD}

	if reason, err := m.checkBreakers(ctx, &v); err != nil {
		return m.reject(v, ReasonCircuitBreaker), err
	} else if reason != "" {
		return m.reject(v, reason), nil
	}
	v.ChecksPassed = append(v.ChecksPassed, "circuit_breaker")

	if in.TimeToCloseSec > 0 && in.TimeToCloseSec <= noTradeZoneSec {
		return m.reject(v, ReasonNoTradeZone), nil
	}
	v.ChecksPassed = append(v.ChecksPassed, "no_trade_zone")

	if in.BookAgeMs < 0 || in.BookAgeMs > maxBookAgeMs {
		return m.reject(v, ReasonStaleBook), nil
	}
	v.ChecksPassed = append(v.ChecksPassed, "book_freshness")

	if in.SpreadBps > maxSpreadBps {
		return m.reject(v, ReasonSpreadTooWide), nil
	}
	v.ChecksPassed = append(v.ChecksPassed, "spread")

	if in.MinDepthUSD < minDepthUSD {
		return m.reject(v, ReasonInsufficientDepth), nil
	}
	v.ChecksPassed = append(v.ChecksPassed, "depth")

	if reason, err := m.clampSize(ctx, in, &v); err != nil {
		return m.reject(v, ReasonExposureLimit), err
	} else if reason != "" {
		return m.reject(v, reason), nil
	}

	if v.SizeUSD < m.cfg.MinBetUSD {
		v.CapTag = ReasonBelowMinBet
		return m.reject(v, ReasonBelowMinBet), nil
	}
	v.ChecksPassed = append(v.ChecksPassed, "bet_size")

	v.Approved = true
	return v, nil
}

// checkBreakers returns a rejection reason when a breaker is latched or a
// fresh breach latches one now.
func (m *Manager) checkBreakers(ctx context.Context, v *Verdict) (string, error) {
	latch, err := m.store.HGetAll(ctx, store.CircuitBreakerKey)
	if err != nil {
		return "", err
	}
	if latch["active"] == "1" {
		return ReasonCircuitBreaker, nil
	}

	lossLimit := m.cfg.DailyLossLimit * m.cfg.Bankroll
	pnl, err := m.getFloat(ctx, store.DailyPnLCurrentKey)
	if err != nil {
		return "", err
	}
	if lossLimit > 0 && pnl < -lossLimit {
		return m.trip(ctx, ReasonDailyLoss, fmt.Sprintf("daily pnl %.2f < -%.2f", pnl, lossLimit))
	}
	if lossLimit > 0 && pnl <= -breakerWarnFraction*lossLimit {
		v.Warnings = append(v.Warnings, "daily_loss_near_limit")
	}

	drawdown, err := m.currentDrawdown(ctx)
	if err != nil {
		return "", err
	}
	if m.cfg.MaxDrawdownPct > 0 && drawdown > m.cfg.MaxDrawdownPct {
		return m.trip(ctx, ReasonMaxDrawdown, fmt.Sprintf("drawdown %.2f%% > %.2f%%", drawdown*100, m.cfg.MaxDrawdownPct*100))
	}
	if m.cfg.MaxDrawdownPct > 0 && drawdown >= breakerWarnFraction*m.cfg.MaxDrawdownPct {
		v.Warnings = append(v.Warnings, "drawdown_near_limit")
	}

	losses, err := m.getFloat(ctx, store.ConsecutiveLossesKey)
	if err != nil {
		return "", err
	}
	if m.cfg.ConsecutiveLossLimit > 0 && int64(losses) >= m.cfg.ConsecutiveLossLimit {
		return m.trip(ctx, ReasonConsecutiveLosses, fmt.Sprintf("%d consecutive losses", int64(losses)))
	}

	return "", nil
}

// clampSize applies the single-bet cap, then position headroom, then
// exposure headroom. Returns a rejection reason when headroom is gone.
func (m *Manager) clampSize(ctx context.Context, in CheckInput, v *Verdict) (string, error) {
	maxBet := m.cfg.MaxBetFraction * m.cfg.Bankroll
	if maxBet > 0 && v.SizeUSD > maxBet {
		v.SizeUSD = maxBet
		v.CapTag = "max_bet_fraction"
		v.Warnings = append(v.Warnings, "clamped_to_max_bet")
	}

	existing, err := m.positionExposure(ctx, in.TokenID)
	if err != nil {
		return "", err
	}
	posHeadroom := m.cfg.MaxPositionFraction*m.cfg.Bankroll - existing
	if posHeadroom <= 0 {
		return ReasonPositionLimit, nil
	}
	if v.SizeUSD > posHeadroom {
		v.SizeUSD = posHeadroom
		v.CapTag = "max_position_fraction"
		v.Warnings = append(v.Warnings, "clamped_to_position_headroom")
	}
	v.ChecksPassed = append(v.ChecksPassed, "position_limit")

	total, err := m.getFloat(ctx, store.TotalExposureKey)
	if err != nil {
		return "", err
	}
	expHeadroom := m.cfg.MaxExposureFraction*m.cfg.Bankroll - total
	if expHeadroom <= 0 {
		return ReasonExposureLimit, nil
	}
	if v.SizeUSD > expHeadroom {
		v.SizeUSD = expHeadroom
		v.CapTag = "max_exposure_fraction"
		v.Warnings = append(v.Warnings, "clamped_to_exposure_headroom")
	}
	v.ChecksPassed = append(v.ChecksPassed, "exposure_limit")

	return "", nil
}

// RecordEntry books a filled paper trade against position and exposure
// counters.
func (m *Manager) RecordEntry(ctx context.Context, tokenID string, sizeUSD float64) error {
	if _, err := m.store.IncrByFloat(ctx, store.TotalExposureKey, sizeUSD); err != nil {
		return fmt.Errorf("increment exposure: %w", err)
	}
	if err := m.store.HSet(ctx, store.PositionKey(tokenID), map[string]string{
		"last_entry_ms": strconv.FormatInt(m.now().UnixMilli(), 10),
	}); err != nil {
		return err
	}
	if _, err := m.incrHashFloat(ctx, store.PositionKey(tokenID), "exposure_usd", sizeUSD); err != nil {
		return err
	}
	return nil
}

// RecordSettlement applies a realized P&L delta: daily counters, the
// consecutive-loss streak, bankroll, and the running drawdown.
func (m *Manager) RecordSettlement(ctx context.Context, tokenID string, pnlUSD float64) error {
	day := m.now().UTC().Format("2006-01-02")
	if _, err := m.store.IncrByFloat(ctx, store.DailyPnLKey(day), pnlUSD); err != nil {
		return err
	}
	if _, err := m.store.IncrByFloat(ctx, store.DailyPnLCurrentKey, pnlUSD); err != nil {
		return err
	}

	if pnlUSD < 0 {
		if _, err := m.store.IncrByFloat(ctx, store.ConsecutiveLossesKey, 1); err != nil {
			return err
		}
	} else if err := m.store.Set(ctx, store.ConsecutiveLossesKey, "0", 0); err != nil {
		return err
	}

	// Seed the paper bankroll on first use so drawdown has a baseline.
	seed := strconv.FormatFloat(m.cfg.Bankroll, 'f', -1, 64)
	if _, err := m.store.SetNX(ctx, store.BankrollKey, seed, 0); err != nil {
		return err
	}
	bankroll, err := m.store.IncrByFloat(ctx, store.BankrollKey, pnlUSD)
	if err != nil {
		return err
	}
	return m.updateDrawdown(ctx, bankroll)
}

// ResetDaily zeroes the rolling daily P&L counter. Scheduled at UTC midnight.
func (m *Manager) ResetDaily(ctx context.Context) error {
	return m.store.Set(ctx, store.DailyPnLCurrentKey, "0", 0)
}

func (m *Manager) reject(v Verdict, reason string) Verdict {
	v.Approved = false
	v.Rejection = reason
	v.SizeUSD = 0
	m.logger.Info("trade rejected", "reason", reason)
	return v
}

// trip latches the circuit breaker for RiskTTL and returns the trip reason.
func (m *Manager) trip(ctx context.Context, reason, detail string) (string, error) {
	m.logger.Error("circuit breaker tripped", "reason", reason, "detail", detail)
	err := m.store.HSet(ctx, store.CircuitBreakerKey, map[string]string{
		"active":   "1",
		"reason":   reason,
		"detail":   detail,
		"since_ms": strconv.FormatInt(m.now().UnixMilli(), 10),
	})
	if err != nil {
		return reason, err
	}
	return reason, m.store.Expire(ctx, store.CircuitBreakerKey, store.RiskTTL)
}

// currentDrawdown reads the peak-to-current bankroll drawdown fraction,
// seeding the peak from the configured bankroll when absent.
func (m *Manager) currentDrawdown(ctx context.Context) (float64, error) {
	fields, err := m.store.HGetAll(ctx, store.DrawdownKey)
	if err != nil {
		return 0, err
	}
	cur, perr := strconv.ParseFloat(fields["current"], 64)
	if perr != nil {
		return 0, nil
	}
	return cur, nil
}

func (m *Manager) updateDrawdown(ctx context.Context, bankroll float64) error {
	fields, err := m.store.HGetAll(ctx, store.DrawdownKey)
	if err != nil {
		return err
	}
	peak, perr := strconv.ParseFloat(fields["peak"], 64)
	if perr != nil || peak <= 0 {
		peak = m.cfg.Bankroll
	}
	peak = math.Max(peak, bankroll)

	drawdown := 0.0
	if peak > 0 {
		drawdown = math.Max(0, (peak-bankroll)/peak)
	}
	return m.store.HSet(ctx, store.DrawdownKey, map[string]string{
		"peak":    strconv.FormatFloat(peak, 'f', -1, 64),
		"current": strconv.FormatFloat(drawdown, 'f', -1, 64),
	})
}

func (m *Manager) positionExposure(ctx context.Context, tokenID string) (float64, error) {
	fields, err := m.store.HGetAll(ctx, store.PositionKey(tokenID))
	if err != nil {
		return 0, err
	}
	exp, perr := strconv.ParseFloat(fields["exposure_usd"], 64)
	if perr != nil {
		return 0, nil
	}
	return exp, nil
}

func (m *Manager) getFloat(ctx context.Context, key string) (float64, error) {
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	f, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		return 0, nil
	}
	return f, nil
}

// incrHashFloat is a read-modify-write on one hash field. Counters updated
// this way tolerate the race: paper fills are serialized per token by the
// queue.
func (m *Manager) incrHashFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	fields, err := m.store.HGetAll(ctx, key)
	if err != nil {
		return 0, err
	}
	cur, _ := strconv.ParseFloat(fields[field], 64)
	next := cur + delta
	return next, m.store.HSet(ctx, key, map[string]string{
		field: strconv.FormatFloat(next, 'f', -1, 64),
	})
}
