package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"polysentry/internal/freshness"
	"polysentry/internal/market"
	"polysentry/internal/queue"
	"polysentry/internal/store"
	"polysentry/pkg/types"
)

// endedGraceMs keeps just-closed markets tracked briefly so in-flight jobs
// drain before their state is torn down.
const endedGraceMs = 5 * 60 * 1000

// HandleDiscovery refreshes the tracked-token set from the Gamma listing:
// parse, filter, cache metadata, and retire markets that have ended.
func (c *Collector) HandleDiscovery(ctx context.Context, _ queue.Job) error {
	markets, err := c.api.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}

	nowMs := c.now().UnixMilli()
	tracked := 0
	for _, gm := range markets {
		md, perr := market.ParseGammaMarket(gm)
		if perr != nil {
			c.logger.Debug("skipping unparseable market", "condition", gm.ConditionID, "error", perr)
			continue
		}
		if !c.wantMarket(md, nowMs) {
			continue
		}
		if err := c.trackMarket(ctx, md); err != nil {
			c.logger.Warn("track market failed", "condition", md.ConditionID, "error", err)
			continue
		}
		tracked++
	}

	retired, err := c.retireEndedTokens(ctx, nowMs)
	if err != nil {
		c.logger.Warn("retire ended tokens", "error", err)
	}

	c.logger.Info("discovery cycle complete",
		"listed", len(markets), "tracked", tracked, "retired", retired)
	return nil
}

// wantMarket is the tracking predicate: live binary markets closing within
// the horizon, above the volume and liquidity floors, passing the
// category/tag/word filters.
func (c *Collector) wantMarket(md types.MarketMetadata, nowMs int64) bool {
	if !md.Active || md.Closed || md.Resolved {
		return false
	}
	end := md.EndTime()
	if end.IsZero() {
		return false
	}
	untilClose := end.UnixMilli() - nowMs
	if untilClose <= 0 || untilClose > c.discovery.TrackedHorizon.Milliseconds() {
		return false
	}
	if md.Volume < c.discovery.MinVolume || md.Liquidity < c.discovery.MinLiquidity {
		return false
	}
	if len(c.discovery.Categories) > 0 && !containsFold(c.discovery.Categories, md.Category) {
		return false
	}
	for _, tag := range md.Tags {
		if containsFold(c.discovery.ExcludeTags, tag) {
			return false
		}
	}
	return !questionHasWord(md.Question, c.discovery.ExcludeWords)
}

func (c *Collector) trackMarket(ctx context.Context, md types.MarketMetadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, store.MarketMetadataKey(md.ConditionID), string(data), store.MetadataTTL); err != nil {
		return err
	}
	for _, outcome := range md.Outcomes {
		if err := c.store.SAdd(ctx, store.TrackedTokensKey, outcome.TokenID); err != nil {
			return err
		}
		if err := c.store.Set(ctx, store.TokenConditionKey(outcome.TokenID), md.ConditionID, store.MetadataTTL); err != nil {
			return err
		}
	}
	return c.fresh.Touch(ctx, freshness.KindMarket, md.ConditionID)
}

// retireEndedTokens drops tokens whose market has ended (plus grace) or
// whose metadata has expired, deleting all derived per-token state.
func (c *Collector) retireEndedTokens(ctx context.Context, nowMs int64) (int, error) {
	tokens, err := c.store.SMembers(ctx, store.TrackedTokensKey)
	if err != nil {
		return 0, err
	}

	retired := 0
	for _, tokenID := range tokens {
		cond := c.conditionFor(ctx, tokenID)
		if cond != "" && !c.marketEnded(ctx, cond, nowMs) {
			continue
		}
		if err := c.dropToken(ctx, tokenID, cond); err != nil {
			c.logger.Warn("drop token failed", "token", tokenID, "error", err)
			continue
		}
		retired++
	}
	return retired, nil
}

func (c *Collector) marketEnded(ctx context.Context, conditionID string, nowMs int64) bool {
	raw, ok, err := c.store.Get(ctx, store.MarketMetadataKey(conditionID))
	if err != nil || !ok {
		return true
	}
	var md types.MarketMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return true
	}
	if md.Closed || md.Resolved {
		return true
	}
	end := md.EndTime()
	return !end.IsZero() && nowMs > end.UnixMilli()+endedGraceMs
}

func (c *Collector) dropToken(ctx context.Context, tokenID, conditionID string) error {
	if err := c.store.SRem(ctx, store.TrackedTokensKey, tokenID); err != nil {
		return err
	}
	keys := []string{
		store.BookStateKey(tokenID),
		store.BookWindowKey(tokenID),
		store.TradeWindowKey(tokenID),
		store.FeaturesLatestKey(tokenID),
		store.ScoresLatestKey(tokenID),
		store.HawkesKey(tokenID),
		store.CUSUMKey(tokenID, "size"),
		store.CUSUMKey(tokenID, "spread"),
		store.SizeDigestKey(tokenID),
		store.RollingStatsKey(tokenID),
		store.WalletsSeenKey(tokenID),
		store.TokenConditionKey(tokenID),
		store.DecisionCacheKey(tokenID),
		store.StalenessKey(string(freshness.KindOrderbook), tokenID),
		store.StalenessKey(string(freshness.KindTrade), tokenID),
	}
	if conditionID != "" {
		keys = append(keys, store.MarketMetadataKey(conditionID))
	}
	return c.store.Del(ctx, keys...)
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// questionHasWord scans the question text for any excluded word on word
// boundaries, so "war" does not match "warming".
func questionHasWord(question string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	tokens := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, tok := range tokens {
		for _, w := range words {
			if tok == strings.ToLower(w) {
				return true
			}
		}
	}
	return false
}
