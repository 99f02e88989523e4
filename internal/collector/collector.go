// Package collector owns the ingestion jobs: market discovery, orderbook
// snapshots, and trade polling. Each handler is one queue job: it pulls from
// the exchange, normalizes, updates store-held windows and estimator state,
// touches freshness, and emits feature events downstream. Handlers never
// share process memory; everything that spans jobs lives in the store.
package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"polysentry/internal/config"
	"polysentry/internal/feature"
	"polysentry/internal/freshness"
	"polysentry/internal/queue"
	"polysentry/internal/store"
	"polysentry/pkg/types"
)

// cusumThreshold is the change-point detection threshold shared by the size
// and spread streams.
const cusumThreshold = 5.0

// ExchangeAPI is the slice of the exchange client the collectors use.
type ExchangeAPI interface {
	ListMarkets(ctx context.Context) ([]types.GammaMarket, error)
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
	GetRecentTrades(ctx context.Context, tokenID string, limit int) ([]types.PublicTrade, error)
}

// WalletTracker is the wallet-enrichment surface the trade collector needs.
type WalletTracker interface {
	Enrich(ctx context.Context, address string) (types.WalletProfile, error)
	MarkSeen(ctx context.Context, address string) error
	RecordTrade(ctx context.Context, address, conditionID string, notionalUSD float64)
}

// TradeArchiver persists normalized trades to tabular storage. Optional.
type TradeArchiver interface {
	SaveTrade(ctx context.Context, tr types.Trade) error
}

// Collector bundles the three ingestion handlers.
type Collector struct {
	store     store.Store
	api       ExchangeAPI
	wallets   WalletTracker
	fresh     *freshness.Tracker
	queues    *queue.Manager
	archive   TradeArchiver // nil = persistence disabled
	discovery config.DiscoveryConfig
	logger    *slog.Logger
	now       func() time.Time
}

func New(
	s store.Store,
	api ExchangeAPI,
	wallets WalletTracker,
	fresh *freshness.Tracker,
	queues *queue.Manager,
	archive TradeArchiver,
	discovery config.DiscoveryConfig,
	logger *slog.Logger,
) *Collector {
	return &Collector{
		store:     s,
		api:       api,
		wallets:   wallets,
		fresh:     fresh,
		queues:    queues,
		archive:   archive,
		discovery: discovery,
		logger:    logger.With("component", "collector"),
		now:       time.Now,
	}
}

// Register binds the handlers to their job kinds.
func (c *Collector) Register(m *queue.Manager) {
	m.Handle(queue.KindDiscovery, c.HandleDiscovery)
	m.Handle(queue.KindOrderbook, c.HandleOrderbook)
	m.Handle(queue.KindTradePoll, c.HandleTrades)
}

// emitEvent pushes one feature event onto the features queue. Trade events
// carry the trade ID in the job ID so multiple trades on one token within a
// tick are not collapsed by the pending-dedupe.
func (c *Collector) emitEvent(evt feature.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		c.logger.Error("marshal feature event", "token", evt.TokenID, "error", err)
		return
	}
	job := queue.Job{
		ID:      queue.KindFeatures + ":" + evt.TokenID,
		Queue:   queue.QueueFeatures,
		Kind:    queue.KindFeatures,
		TokenID: evt.TokenID,
		Payload: payload,
	}
	if evt.Trade != nil {
		job.ID = queue.KindFeatures + ":" + evt.TokenID + ":" + evt.Trade.ID
	}
	c.queues.Enqueue(job)
}

// conditionFor resolves a token to its market via the token→condition cache.
func (c *Collector) conditionFor(ctx context.Context, tokenID string) string {
	cond, ok, err := c.store.Get(ctx, store.TokenConditionKey(tokenID))
	if err != nil || !ok {
		return ""
	}
	return cond
}
