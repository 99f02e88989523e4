// Package freshness tracks how old each piece of market data is.
//
// Every collector job records lastUpdate(kind, entity) on success; the
// decision pipeline and the risk guards read those records back to decide
// whether the data under a score is still safe to act on. Staleness is not
// an error: it is a gate, surfaced as a structured rejection reason.
package freshness

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"polysentry/internal/store"
)

// Kind identifies the data feed a record belongs to.
type Kind string

const (
	KindOrderbook Kind = "orderbook"
	KindTrade     Kind = "trade"
	KindMarket    Kind = "market"
	KindWallet    Kind = "wallet"
)

// Status buckets the age of a record against kind-specific thresholds.
type Status string

const (
	StatusFresh    Status = "fresh"
	StatusWarning  Status = "warning"
	StatusStale    Status = "stale"
	StatusCritical Status = "critical"
	StatusExpired  Status = "expired"
	StatusUnknown  Status = "unknown" // no record
)

// thresholds holds the upper bound (exclusive, ms) of each status bucket.
type thresholds struct {
	fresh, warning, stale, critical int64
}

var thresholdsByKind = map[Kind]thresholds{
	KindOrderbook: {2_000, 5_000, 10_000, 30_000},
	KindTrade:     {5_000, 10_000, 30_000, 60_000},
	KindMarket:    {60_000, 300_000, 600_000, 3_600_000},
	KindWallet:    {3_600_000, 7_200_000, 21_600_000, 86_400_000},
}

// Record is the freshness assessment of one (kind, entity) pair.
type Record struct {
	Kind         Kind   `json:"kind"`
	Entity       string `json:"entity"`
	LastUpdateMs int64  `json:"lastUpdateMs"` // 0 when unknown
	AgeMs        int64  `json:"ageMs"`        // -1 when unknown
	Status       Status `json:"status"`
}

// TradeSafe reports whether the record is recent enough to trade on.
func (r Record) TradeSafe() bool {
	return r.Status == StatusFresh || r.Status == StatusWarning
}

// TokenFreshness combines the per-feed records relevant to one token.
type TokenFreshness struct {
	Book        Record `json:"book"`
	Trade       Record `json:"trade"`
	MarketKnown bool   `json:"marketKnown"`
	OK          bool   `json:"ok"`
	Reason      string `json:"reason,omitempty"`
}

// Tracker records and evaluates last-update timestamps through the store.
type Tracker struct {
	store store.Store
	now   func() time.Time
}

func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s, now: time.Now}
}

// NewTrackerAt injects a clock, for tests.
func NewTrackerAt(s store.Store, now func() time.Time) *Tracker {
	return &Tracker{store: s, now: now}
}

// Touch records that the given entity's data was just refreshed.
func (t *Tracker) Touch(ctx context.Context, kind Kind, entity string) error {
	return t.TouchAt(ctx, kind, entity, t.now().UnixMilli())
}

// TouchAt records a last-update instant supplied by the caller, for feeds
// whose freshness is defined by event time rather than poll time.
func (t *Tracker) TouchAt(ctx context.Context, kind Kind, entity string, tsMs int64) error {
	key := store.StalenessKey(string(kind), entity)
	if err := t.store.Set(ctx, key, strconv.FormatInt(tsMs, 10), store.StalenessTTL); err != nil {
		return fmt.Errorf("record last update %s/%s: %w", kind, entity, err)
	}
	return nil
}

// Check reads the last-update record and buckets its age.
func (t *Tracker) Check(ctx context.Context, kind Kind, entity string) (Record, error) {
	rec := Record{Kind: kind, Entity: entity, AgeMs: -1, Status: StatusUnknown}

	raw, ok, err := t.store.Get(ctx, store.StalenessKey(string(kind), entity))
	if err != nil {
		return rec, fmt.Errorf("read last update %s/%s: %w", kind, entity, err)
	}
	if !ok {
		return rec, nil
	}
	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || last <= 0 {
		return rec, nil
	}

	rec.LastUpdateMs = last
	rec.AgeMs = t.now().UnixMilli() - last
	if rec.AgeMs < 0 {
		rec.AgeMs = 0
	}
	rec.Status = StatusFor(kind, rec.AgeMs)
	return rec, nil
}

// StatusFor buckets an age in milliseconds against the kind's thresholds.
func StatusFor(kind Kind, ageMs int64) Status {
	th, ok := thresholdsByKind[kind]
	if !ok {
		return StatusUnknown
	}
	switch {
	case ageMs < th.fresh:
		return StatusFresh
	case ageMs < th.warning:
		return StatusWarning
	case ageMs < th.stale:
		return StatusStale
	case ageMs < th.critical:
		return StatusCritical
	default:
		return StatusExpired
	}
}

// CheckToken evaluates whether a token's combined market data is fresh enough
// to run the decision pipeline on. The orderbook record is required and must
// be trade-safe; trades only count against the token when a record exists and
// has gone stale; market metadata must exist in the store.
func (t *Tracker) CheckToken(ctx context.Context, tokenID, conditionID string) (TokenFreshness, error) {
	var tf TokenFreshness

	book, err := t.Check(ctx, KindOrderbook, tokenID)
	if err != nil {
		return tf, err
	}
	tf.Book = book

	trade, err := t.Check(ctx, KindTrade, tokenID)
	if err != nil {
		return tf, err
	}
	tf.Trade = trade

	_, tf.MarketKnown, err = t.store.Get(ctx, store.MarketMetadataKey(conditionID))
	if err != nil {
		return tf, fmt.Errorf("read market metadata %s: %w", conditionID, err)
	}

	switch {
	case book.Status == StatusUnknown:
		tf.Reason = "no orderbook data"
	case !book.TradeSafe():
		tf.Reason = fmt.Sprintf("orderbook %s (age %dms)", book.Status, book.AgeMs)
	case trade.Status != StatusUnknown && !trade.TradeSafe():
		tf.Reason = fmt.Sprintf("trades %s (age %dms)", trade.Status, trade.AgeMs)
	case !tf.MarketKnown:
		tf.Reason = "market metadata missing"
	default:
		tf.OK = true
	}
	return tf, nil
}
