package market

import (
	"math"

	"polysentry/pkg/types"
)

const (
	// imbalanceMargin is the |imbalance| above which one side counts as thin.
	imbalanceMargin = 0.3
	// adequateDepthUSD is the per-side minimum within 10% of mid.
	adequateDepthUSD = 100.0
	topLevels        = 5
)

// ComputeMetrics derives the scoring inputs from a normalized snapshot:
// USD depth within 5%/10% bands of mid, top-of-book depth, signed imbalance,
// the thin side, and spread in basis points.
func ComputeMetrics(snap types.BookSnapshot) types.BookMetrics {
	m := types.BookMetrics{
		TokenID:   snap.TokenID,
		Timestamp: snap.Timestamp,
		ThinSide:  types.BalancedSide,
	}

	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if okB {
		m.BestBid = bid
	}
	if okA {
		m.BestAsk = ask
	}
	m.TwoSided = okB && okA
	if !m.TwoSided {
		return m
	}

	m.MidPrice = (bid + ask) / 2
	m.Spread = ask - bid
	if m.MidPrice > 0 {
		m.SpreadBps = m.Spread / m.MidPrice * 10_000
	}

	m.BidDepth5 = depthUSD(snap.Bids, m.MidPrice*0.95, math.Inf(1))
	m.BidDepth10 = depthUSD(snap.Bids, m.MidPrice*0.90, math.Inf(1))
	m.AskDepth5 = depthUSD(snap.Asks, math.Inf(-1), m.MidPrice*1.05)
	m.AskDepth10 = depthUSD(snap.Asks, math.Inf(-1), m.MidPrice*1.10)
	m.BidDepthTop = topDepthUSD(snap.Bids)
	m.AskDepthTop = topDepthUSD(snap.Asks)

	total := m.BidDepth10 + m.AskDepth10
	if total > 0 {
		m.Imbalance = (m.BidDepth10 - m.AskDepth10) / total
	}

	m.ThinSideRatio = 1
	if math.Abs(m.Imbalance) > imbalanceMargin {
		var thin, thick float64
		if m.Imbalance > 0 {
			m.ThinSide = types.AskSide
			thin, thick = m.AskDepth10, m.BidDepth10
		} else {
			m.ThinSide = types.BidSide
			thin, thick = m.BidDepth10, m.AskDepth10
		}
		if thick > 0 {
			m.ThinSideRatio = thin / thick
		} else {
			m.ThinSideRatio = 0
		}
	}

	m.DepthAdequate = m.BidDepth10 >= adequateDepthUSD && m.AskDepth10 >= adequateDepthUSD
	return m
}

// depthUSD sums price×size over levels priced inside [lo, hi].
func depthUSD(levels []types.PriceLevel, lo, hi float64) float64 {
	var usd float64
	for _, l := range levels {
		if l.Price >= lo && l.Price <= hi {
			usd += l.Price * l.Size
		}
	}
	return usd
}

func topDepthUSD(levels []types.PriceLevel) float64 {
	var usd float64
	for i, l := range levels {
		if i >= topLevels {
			break
		}
		usd += l.Price * l.Size
	}
	return usd
}
