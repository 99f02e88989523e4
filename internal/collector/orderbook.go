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

// HandleOrderbook takes one book snapshot for the job's token: normalize,
// derive metrics, cache the state, append to the rolling window, advance the
// spread change-point stream, and emit an orderbook feature event.
func (c *Collector) HandleOrderbook(ctx context.Context, job queue.Job) error {
	resp, err := c.api.GetOrderBook(ctx, job.TokenID)
	if err != nil {
		return fmt.Errorf("fetch book %s: %w", job.TokenID, err)
	}

	nowMs := c.now().UnixMilli()
	snap, err := market.NormalizeBook(resp, nowMs)
	if err != nil {
		return fmt.Errorf("normalize book %s: %w", job.TokenID, err)
	}
	return c.ingestBook(ctx, job.TokenID, snap, nowMs)
}

// IngestWSBook runs a pushed websocket book snapshot through the same path
// as a polled one. Snapshots for untracked tokens are dropped.
func (c *Collector) IngestWSBook(ctx context.Context, evt types.WSBookEvent) error {
	tracked, err := c.store.SIsMember(ctx, store.TrackedTokensKey, evt.AssetID)
	if err != nil {
		return err
	}
	if !tracked {
		return nil
	}

	nowMs := c.now().UnixMilli()
	snap, err := market.NormalizeWSBook(evt, nowMs)
	if err != nil {
		return fmt.Errorf("normalize ws book %s: %w", evt.AssetID, err)
	}
	return c.ingestBook(ctx, evt.AssetID, snap, nowMs)
}

// ingestBook is the shared intake for polled and pushed snapshots: cache the
// state, append to the rolling window, advance the spread change-point
// stream, touch freshness, and emit an orderbook feature event.
func (c *Collector) ingestBook(ctx context.Context, tokenID string, snap types.BookSnapshot, nowMs int64) error {
	state := types.BookState{Snapshot: snap, Metrics: market.ComputeMetrics(snap)}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, store.BookStateKey(tokenID), string(data), store.StateTTL); err != nil {
		return fmt.Errorf("cache book state: %w", err)
	}
	if err := c.appendBookWindow(ctx, tokenID, string(data), snap.Timestamp, nowMs); err != nil {
		return err
	}

	if state.Metrics.TwoSided {
		c.updateSpreadCUSUM(ctx, tokenID, state.Metrics.SpreadBps)
	}

	if err := c.fresh.Touch(ctx, freshness.KindOrderbook, tokenID); err != nil {
		c.logger.Warn("touch orderbook freshness", "token", tokenID, "error", err)
	}

	c.emitEvent(feature.Event{
		Kind:        "orderbook",
		TokenID:     tokenID,
		ConditionID: c.conditionFor(ctx, tokenID),
		Timestamp:   snap.Timestamp,
	})
	return nil
}

// appendBookWindow adds the snapshot to the 60m window and trims everything
// older than the window start.
func (c *Collector) appendBookWindow(ctx context.Context, tokenID, member string, tsMs, nowMs int64) error {
	key := store.BookWindowKey(tokenID)
	if err := c.store.ZAdd(ctx, key, store.ZMember{Score: float64(tsMs), Member: member}); err != nil {
		return fmt.Errorf("append book window: %w", err)
	}
	cutoff := float64(nowMs - store.WindowTTL.Milliseconds())
	if _, err := c.store.ZRemRangeByScore(ctx, key, math.Inf(-1), cutoff); err != nil {
		return fmt.Errorf("trim book window: %w", err)
	}
	return c.store.Expire(ctx, key, store.WindowTTL)
}

func (c *Collector) updateSpreadCUSUM(ctx context.Context, tokenID string, spreadBps float64) {
	key := store.CUSUMKey(tokenID, "spread")
	cp := stats.NewCUSUM(cusumThreshold)
	if raw, ok, err := c.store.Get(ctx, key); err == nil && ok {
		if restored, derr := stats.DeserializeCUSUM(raw); derr == nil {
			cp = restored
		}
	}
	cp.Update(spreadBps)
	serialized, err := cp.Serialize()
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, serialized, store.MetadataTTL); err != nil {
		c.logger.Warn("persist spread cusum", "token", tokenID, "error", err)
	}
}
