// Package market normalizes upstream market data into the canonical shapes
// the pipeline consumes: order book snapshots with derived metrics, trades
// keyed for window dedupe, and market metadata from the Gamma listing.
//
// Normalization is strict about invariants (bids descending, asks ascending,
// no zero-size levels, prices in [0, 1]) and lenient about inputs: a single
// malformed level or trade is dropped and logged by the caller, never failing
// the whole batch.
package market

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"polysentry/pkg/types"
)

// NormalizeBook converts a CLOB REST book response into a canonical snapshot.
// fallbackMs is used when the response carries no parseable timestamp.
func NormalizeBook(resp *types.BookResponse, fallbackMs int64) (types.BookSnapshot, error) {
	if resp.AssetID == "" {
		return types.BookSnapshot{}, fmt.Errorf("book response missing asset id")
	}

	ts := fallbackMs
	if resp.Timestamp != "" {
		if v, err := strconv.ParseInt(resp.Timestamp, 10, 64); err == nil && v > 0 {
			ts = v
		}
	}

	snap := types.BookSnapshot{
		TokenID:   resp.AssetID,
		Timestamp: ts,
		Bids:      parseLevels(resp.Bids),
		Asks:      parseLevels(resp.Asks),
	}

	// Bids best-first (descending), asks best-first (ascending).
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })

	return snap, nil
}

// NormalizeWSBook converts a market-channel book event into a snapshot.
func NormalizeWSBook(evt types.WSBookEvent, fallbackMs int64) (types.BookSnapshot, error) {
	return NormalizeBook(&types.BookResponse{
		AssetID:   evt.AssetID,
		Bids:      evt.Buys,
		Asks:      evt.Sells,
		Timestamp: evt.Timestamp,
	}, fallbackMs)
}

// parseLevels parses string price/size pairs as decimals, dropping malformed
// and zero-size levels and anything priced outside [0, 1].
func parseLevels(raw []types.RawPriceLevel) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(r.Size)
		if err != nil {
			continue
		}
		if size.Sign() <= 0 {
			continue
		}
		p, _ := price.Float64()
		if p < 0 || p > 1 {
			continue
		}
		s, _ := size.Float64()
		levels = append(levels, types.PriceLevel{Price: p, Size: s})
	}
	return levels
}
