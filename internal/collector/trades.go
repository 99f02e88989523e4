package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"polysentry/internal/feature"
	"polysentry/internal/freshness"
	"polysentry/internal/market"
	"polysentry/internal/queue"
	"polysentry/internal/stats"
	"polysentry/internal/store"
	"polysentry/pkg/types"
)

// tradePollLimit is how many recent trades one poll requests.
const tradePollLimit = 100

// HandleTrades polls recent trades for the job's token, deduplicates against
// the rolling window, and runs the per-trade pipeline: window append, wallet
// tracking, estimator updates, optional persistence, feature event.
func (c *Collector) HandleTrades(ctx context.Context, job queue.Job) error {
	raw, err := c.api.GetRecentTrades(ctx, job.TokenID, tradePollLimit)
	if err != nil {
		return fmt.Errorf("fetch trades %s: %w", job.TokenID, err)
	}
	if len(raw) == 0 {
		return nil
	}

	seen, err := c.windowTradeIDs(ctx, job.TokenID)
	if err != nil {
		return err
	}

	nowMs := c.now().UnixMilli()
	windowStart := nowMs - store.WindowTTL.Milliseconds()
	ingested := 0
	var latestTs int64
	for _, pt := range raw {
		tr, nerr := market.NormalizeTrade(pt)
		if nerr != nil {
			c.logger.Debug("dropping invalid trade", "token", job.TokenID, "error", nerr)
			continue
		}
		if tr.Timestamp < windowStart || seen[tr.ID] {
			continue
		}
		seen[tr.ID] = true

		if err := c.ingestTrade(ctx, tr, nowMs); err != nil {
			c.logger.Warn("ingest trade failed", "trade", tr.ID, "error", err)
			continue
		}
		ingested++
		if tr.Timestamp > latestTs {
			latestTs = tr.Timestamp
		}
	}

	// Trade freshness follows the newest trade's own timestamp. A poll
	// that brings nothing new leaves the record aging.
	if ingested > 0 {
		if err := c.fresh.TouchAt(ctx, freshness.KindTrade, job.TokenID, latestTs); err != nil {
			c.logger.Warn("touch trade freshness", "token", job.TokenID, "error", err)
		}
		c.logger.Debug("trades ingested", "token", job.TokenID, "count", ingested)
	}
	return nil
}

// ingestTrade runs one new trade through the full intake path.
func (c *Collector) ingestTrade(ctx context.Context, tr types.Trade, nowMs int64) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	key := store.TradeWindowKey(tr.TokenID)
	if err := c.store.ZAdd(ctx, key, store.ZMember{Score: float64(tr.Timestamp), Member: string(data)}); err != nil {
		return fmt.Errorf("append trade window: %w", err)
	}
	cutoff := float64(nowMs - store.WindowTTL.Milliseconds())
	if _, err := c.store.ZRemRangeByScore(ctx, key, math.Inf(-1), cutoff); err != nil {
		return fmt.Errorf("trim trade window: %w", err)
	}
	if err := c.store.Expire(ctx, key, store.WindowTTL); err != nil {
		return err
	}

	c.trackWallet(ctx, tr)
	c.updateTradeEstimators(ctx, tr)

	if c.archive != nil {
		if err := c.archive.SaveTrade(ctx, tr); err != nil {
			c.logger.Warn("archive trade", "trade", tr.ID, "error", err)
		}
	}

	c.emitEvent(feature.Event{
		Kind:        "trade",
		TokenID:     tr.TokenID,
		ConditionID: tr.ConditionID,
		Timestamp:   tr.Timestamp,
		Trade:       &tr,
	})
	return nil
}

// trackWallet enriches first-seen takers synchronously so the wallet feature
// is available when this trade's feature event is built, then records the
// activity counters.
func (c *Collector) trackWallet(ctx context.Context, tr types.Trade) {
	addr := tr.TakerAddress
	if addr == "" {
		return
	}
	seenKey := store.WalletsSeenKey(tr.TokenID)
	known, err := c.store.SIsMember(ctx, seenKey, addr)
	if err == nil && !known {
		if err := c.wallets.MarkSeen(ctx, addr); err != nil {
			c.logger.Warn("mark wallet seen", "wallet", addr, "error", err)
		}
		if _, err := c.wallets.Enrich(ctx, addr); err != nil {
			c.logger.Warn("enrich wallet", "wallet", addr, "error", err)
		}
		if err := c.store.SAdd(ctx, seenKey, addr); err == nil {
			_ = c.store.Expire(ctx, seenKey, store.WindowTTL)
		}
	}
	c.wallets.RecordTrade(ctx, addr, tr.ConditionID, tr.NotionalUSD())
}

// updateTradeEstimators advances the Hawkes intensity, the size change-point
// stream, and the size quantile digest with this trade.
func (c *Collector) updateTradeEstimators(ctx context.Context, tr types.Trade) {
	hawkesKey := store.HawkesKey(tr.TokenID)
	h := stats.NewHawkes(stats.DefaultHawkesBaseline, stats.DefaultHawkesAlpha, stats.DefaultHawkesBeta)
	if raw, ok, err := c.store.Get(ctx, hawkesKey); err == nil && ok {
		if restored, derr := stats.DeserializeHawkes(raw); derr == nil {
			h = restored
		}
	}
	h.Record(tr.Timestamp)
	if serialized, err := h.Serialize(); err == nil {
		if err := c.store.Set(ctx, hawkesKey, serialized, store.MetadataTTL); err != nil {
			c.logger.Warn("persist hawkes", "token", tr.TokenID, "error", err)
		}
	}

	cusumKey := store.CUSUMKey(tr.TokenID, "size")
	cp := stats.NewCUSUM(cusumThreshold)
	if raw, ok, err := c.store.Get(ctx, cusumKey); err == nil && ok {
		if restored, derr := stats.DeserializeCUSUM(raw); derr == nil {
			cp = restored
		}
	}
	cp.Update(tr.NotionalUSD())
	if serialized, err := cp.Serialize(); err == nil {
		if err := c.store.Set(ctx, cusumKey, serialized, store.MetadataTTL); err != nil {
			c.logger.Warn("persist size cusum", "token", tr.TokenID, "error", err)
		}
	}

	digestKey := store.SizeDigestKey(tr.TokenID)
	d := stats.NewDigest(stats.DefaultCompression)
	if raw, ok, err := c.store.Get(ctx, digestKey); err == nil && ok {
		if restored, derr := stats.DeserializeDigest(raw); derr == nil {
			d = restored
		}
	}
	d.Add(tr.NotionalUSD())
	if serialized, err := d.Serialize(); err == nil {
		if err := c.store.Set(ctx, digestKey, serialized, store.MetadataTTL); err != nil {
			c.logger.Warn("persist size digest", "token", tr.TokenID, "error", err)
		}
	}
}

// windowTradeIDs collects the IDs already present in the rolling window.
func (c *Collector) windowTradeIDs(ctx context.Context, tokenID string) (map[string]bool, error) {
	members, err := c.store.ZRangeByScore(ctx, store.TradeWindowKey(tokenID), math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil, fmt.Errorf("read trade window: %w", err)
	}
	ids := make(map[string]bool, len(members))
	for _, m := range members {
		var tr types.Trade
		if uerr := json.Unmarshal([]byte(m.Member), &tr); uerr != nil {
			continue
		}
		ids[tr.ID] = true
	}
	return ids, nil
}
