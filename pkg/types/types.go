// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the pipeline — trades, order book
// snapshots, market metadata, wallet profiles, and tracked-token records. It
// has no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// BookSide identifies one side of the order book, or neither.
type BookSide string

const (
	BidSide      BookSide = "bid"
	AskSide      BookSide = "ask"
	BalancedSide BookSide = "balanced"
)

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade is the canonical normalized trade. Upstream feeds report timestamps
// in seconds; normalization converts everything to epoch milliseconds.
//
// ID derivation: the transaction hash when a valid 32-byte hash is present,
// otherwise "{conditionId}-{unixSec}-{takerAddress}".
type Trade struct {
	ID              string  `json:"tradeId"`
	TokenID         string  `json:"tokenId"`
	ConditionID     string  `json:"conditionId"`
	Timestamp       int64   `json:"timestamp"` // epoch ms
	Side            Side    `json:"side"`
	Price           float64 `json:"price"` // in [0, 1]
	Size            float64 `json:"size"`  // outcome tokens, > 0
	MakerAddress    string  `json:"makerAddress"`
	TakerAddress    string  `json:"takerAddress"`
	FeeRateBps      int     `json:"feeRateBps,omitempty"`
	TransactionHash string  `json:"transactionHash,omitempty"`
}

// NotionalUSD returns the dollar value of the trade.
func (t Trade) NotionalUSD() float64 {
	return t.Price * t.Size
}

// Validate checks the invariants every normalized trade must satisfy.
func (t Trade) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trade missing id")
	}
	if t.TokenID == "" {
		return fmt.Errorf("trade %s: missing token id", t.ID)
	}
	if t.Side != BUY && t.Side != SELL {
		return fmt.Errorf("trade %s: invalid side %q", t.ID, t.Side)
	}
	if t.Price < 0 || t.Price > 1 {
		return fmt.Errorf("trade %s: price %v out of [0,1]", t.ID, t.Price)
	}
	if t.Size <= 0 {
		return fmt.Errorf("trade %s: non-positive size %v", t.ID, t.Size)
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("trade %s: missing timestamp", t.ID)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single normalized bid or ask level. Upstream feeds return
// prices and sizes as strings; normalization parses them as decimals and
// drops zero-size levels.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is a point-in-time, normalized view of one token's order book.
// Invariants: bids sorted descending by price, asks ascending, no zero-size
// levels on either side.
type BookSnapshot struct {
	TokenID   string       `json:"tokenId"`
	Timestamp int64        `json:"timestamp"` // epoch ms
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// BestBid returns the top-of-book bid, if any.
func (b BookSnapshot) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the top-of-book ask, if any.
func (b BookSnapshot) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// MidPrice returns (bestBid+bestAsk)/2 when both sides exist.
func (b BookSnapshot) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// BookMetrics are the values derived from one snapshot that the scoring layer
// consumes. Depth figures are in USD (price × size summed over levels).
type BookMetrics struct {
	TokenID   string `json:"tokenId"`
	Timestamp int64  `json:"timestamp"`

	BestBid   float64 `json:"bestBid"`
	BestAsk   float64 `json:"bestAsk"`
	MidPrice  float64 `json:"midPrice"`
	Spread    float64 `json:"spread"`
	SpreadBps float64 `json:"spreadBps"`
	TwoSided  bool    `json:"twoSided"` // both best bid and best ask present

	BidDepth5   float64 `json:"bidDepth5"` // USD within 5% of mid
	AskDepth5   float64 `json:"askDepth5"`
	BidDepth10  float64 `json:"bidDepth10"` // USD within 10% of mid
	AskDepth10  float64 `json:"askDepth10"`
	BidDepthTop float64 `json:"bidDepthTop"` // USD across top 5 levels
	AskDepthTop float64 `json:"askDepthTop"`

	// Imbalance = (bidDepth10 − askDepth10) / (bidDepth10 + askDepth10), in [-1, 1].
	Imbalance     float64  `json:"imbalance"`
	ThinSide      BookSide `json:"thinSide"` // thinner side iff |imbalance| > 0.3
	ThinSideRatio float64  `json:"thinSideRatio"`
	DepthAdequate bool     `json:"depthAdequate"` // both sides ≥ $100 within 10%
}

// BookState bundles a snapshot with its derived metrics. This is the value
// cached under orderbook:{token}:state and appended to the book window.
type BookState struct {
	Snapshot BookSnapshot `json:"snapshot"`
	Metrics  BookMetrics  `json:"metrics"`
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Outcome is one of the two outcomes of a binary market.
type Outcome struct {
	Name    string `json:"name"`
	TokenID string `json:"tokenId"`
}

// MarketMetadata is the read-mostly market cache entry, populated by the
// discovery job from the Gamma API and refreshed every cycle. A binary market
// has exactly two outcomes with distinct token IDs.
type MarketMetadata struct {
	ConditionID string     `json:"conditionId"`
	Question    string     `json:"question"`
	EndDateISO  string     `json:"endDateIso"`
	Active      bool       `json:"active"`
	Closed      bool       `json:"closed"`
	Resolved    bool       `json:"resolved"`
	Volume      float64    `json:"volume"`
	Liquidity   float64    `json:"liquidity"`
	Outcomes    [2]Outcome `json:"outcomes"`
	Tags        []string   `json:"tags,omitempty"`
	Category    string     `json:"category,omitempty"`
}

// EndTime parses EndDateISO. Returns the zero time when unset or unparseable.
func (m MarketMetadata) EndTime() time.Time {
	if m.EndDateISO == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, m.EndDateISO)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Validate enforces the two-distinct-outcomes invariant.
func (m MarketMetadata) Validate() error {
	if m.ConditionID == "" {
		return fmt.Errorf("market missing condition id")
	}
	if m.Outcomes[0].TokenID == "" || m.Outcomes[1].TokenID == "" {
		return fmt.Errorf("market %s: missing outcome token ids", m.ConditionID)
	}
	if m.Outcomes[0].TokenID == m.Outcomes[1].TokenID {
		return fmt.Errorf("market %s: duplicate outcome token ids", m.ConditionID)
	}
	return nil
}

// TrackedToken is one entry of the config:tracked_tokens set — the scheduler
// enumerates these to enqueue per-token book and trade jobs.
type TrackedToken struct {
	TokenID     string `json:"tokenId"`
	ConditionID string `json:"conditionId"`
	Outcome     string `json:"outcome"`
	EndTime     int64  `json:"endTime"` // epoch ms
}

// ————————————————————————————————————————————————————————————————————————
// Wallets
// ————————————————————————————————————————————————————————————————————————

// WalletProfile is the enriched view of a taker wallet, cached for 30 days.
// A profile with Unknown set is the sentinel written after enrichment failure;
// consumers treat its age as unknown and score it neutrally.
type WalletProfile struct {
	Address        string  `json:"address"`               // lowercased 0x-prefixed hex
	FirstSeenAt    int64   `json:"firstSeenAt,omitempty"` // epoch ms, 0 = unknown
	FirstSeenBlock int64   `json:"firstSeenBlock,omitempty"`
	TxCount        int64   `json:"txCount"`
	TradeCount     int64   `json:"tradeCount"`
	MarketsTraded  int64   `json:"marketsTraded"`
	TotalVolume    float64 `json:"totalVolume"`
	BalanceNative  float64 `json:"balanceNative,omitempty"` // native-token balance in whole units
	IsContract     bool    `json:"isContract"`
	LastEnrichedAt int64   `json:"lastEnrichedAt"` // epoch ms
	Unknown        bool    `json:"unknown,omitempty"`
}

// AgeDays returns the wallet age in days at the given instant.
// Returns -1 when the first-seen time is unknown.
func (w WalletProfile) AgeDays(nowMs int64) float64 {
	if w.FirstSeenAt <= 0 {
		return -1
	}
	return float64(nowMs-w.FirstSeenAt) / float64(24*time.Hour/time.Millisecond)
}

// IsNewAccount reports whether the wallet is younger than 7 days.
func (w WalletProfile) IsNewAccount(nowMs int64) bool {
	age := w.AgeDays(nowMs)
	return age >= 0 && age < 7
}

// IsLowActivity reports whether the wallet has fewer than 10 recorded trades.
func (w WalletProfile) IsLowActivity() bool {
	return w.TradeCount < 10
}
