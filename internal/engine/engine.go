// Package engine is the central orchestrator of the anomaly pipeline.
//
// It wires together all subsystems:
//
//  1. Scheduler emits periodic jobs: market discovery plus per-token book
//     and trade polls.
//  2. Collector handlers ingest those jobs: normalize, window, estimator
//     updates, freshness touches, feature events.
//  3. The features queue runs the decision pipeline per event: build the
//     feature vector, score it, and decide.
//  4. Approved decisions land on the paper queue, where fills are recorded
//     against risk state and archived.
//  5. A WebSocket book feed pushes snapshots for tracked tokens as a
//     lower-latency supplement to polling.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polysentry/internal/chain"
	"polysentry/internal/collector"
	"polysentry/internal/config"
	"polysentry/internal/exchange"
	"polysentry/internal/feature"
	"polysentry/internal/freshness"
	"polysentry/internal/persist"
	"polysentry/internal/queue"
	"polysentry/internal/risk"
	"polysentry/internal/score"
	"polysentry/internal/store"
	"polysentry/internal/strategy"
	"polysentry/internal/wallet"
	"polysentry/pkg/types"
)

// subscriptionSyncInterval is how often WS subscriptions are reconciled
// against the tracked-token set.
const subscriptionSyncInterval = 30 * time.Second

// Engine owns the lifecycle of every component and goroutine in the
// pipeline. All cross-job state lives in the store; the engine itself only
// holds wiring.
type Engine struct {
	cfg     config.Config
	store   store.Store
	client  *exchange.Client
	feed    *exchange.WSFeed
	queues  *queue.Manager
	sched   *queue.Scheduler
	col     *collector.Collector
	builder *feature.Builder
	scorer  *score.Scorer
	decider *strategy.Decider
	riskMgr *risk.Manager
	archive *persist.Archive // nil = persistence disabled
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.OpenRedis(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	auth := exchange.NewAuth(cfg.API.Address, exchange.Credentials{
		ApiKey:     cfg.API.ApiKey,
		Secret:     cfg.API.Secret,
		Passphrase: cfg.API.Passphrase,
	})
	client := exchange.NewClient(cfg.API, auth, logger)
	feed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)

	explorer := chain.NewExplorer(cfg.Chain.ExplorerBaseURL, cfg.Chain.ExplorerAPIKey)
	enricher := wallet.NewEnricher(st, wallet.NewChainReader(explorer), logger)

	fresh := freshness.NewTracker(st)
	builder := feature.NewBuilder(st, enricher, fresh, logger)

	targetSize := cfg.Risk.MaxBetFraction * cfg.Risk.Bankroll
	scorer := score.NewScorer(st, targetSize, logger)
	riskMgr := risk.NewManager(st, cfg.Risk, logger)
	decider := strategy.NewDecider(st, fresh, riskMgr, cfg.Scoring, cfg.Risk, cfg.PaperMode, logger)

	var archive *persist.Archive
	if cfg.Persist.Driver != "" {
		archive, err = persist.Open(cfg.Persist, logger)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
	}

	queues := queue.NewManager(logger)
	for _, name := range []string{queue.QueueNormalize, queue.QueueFeatures, queue.QueuePaper} {
		queues.AddQueue(name, cfg.Queue.Workers, cfg.Queue.RatePerSec)
	}

	// The archive is optional; a typed-nil interface would defeat the
	// collector's nil check.
	var archiver collector.TradeArchiver
	if archive != nil {
		archiver = archive
	}
	col := collector.New(st, client, enricher, fresh, queues, archiver, cfg.Discovery, logger)
	col.Register(queues)

	sched := queue.NewScheduler(
		st, queues,
		cfg.Discovery.Interval, cfg.Collector.BookInterval, cfg.Collector.TradeInterval,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:     cfg,
		store:   st,
		client:  client,
		feed:    feed,
		queues:  queues,
		sched:   sched,
		col:     col,
		builder: builder,
		scorer:  scorer,
		decider: decider,
		riskMgr: riskMgr,
		archive: archive,
		logger:  logger.With("component", "engine"),
		ctx:     ctx,
		cancel:  cancel,
	}
	queues.Handle(queue.KindFeatures, e.handleFeatureEvent)
	queues.Handle(queue.KindPaperFill, e.handlePaperFill)
	return e, nil
}

// Start launches all background goroutines: queue workers, the scheduler,
// the WebSocket feed and its consumer, subscription sync, and the daily
// risk-counter reset.
func (e *Engine) Start() error {
	e.spawn(func() {
		if err := e.queues.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("queue runtime error", "error", err)
		}
	})

	e.spawn(func() {
		if err := e.sched.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("scheduler error", "error", err)
		}
	})

	e.spawn(func() {
		if err := e.feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
		}
	})

	e.spawn(e.consumeBookEvents)
	e.spawn(e.syncSubscriptions)
	e.spawn(e.dailyReset)

	e.logger.Info("engine started",
		"paper_mode", e.cfg.PaperMode,
		"bankroll", e.cfg.Risk.Bankroll,
		"discovery_interval", e.cfg.Discovery.Interval,
	)
	return nil
}

// Stop cancels all goroutines, waits for them, and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.feed.Close()
	e.wg.Wait()

	if e.archive != nil {
		if err := e.archive.Close(); err != nil {
			e.logger.Error("close archive", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("close store", "error", err)
	}

	e.logger.Info("shutdown complete")
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// handleFeatureEvent is the decision pipeline: one feature event in, one
// (possibly cached) decision out. Approved decisions move to the paper queue.
func (e *Engine) handleFeatureEvent(ctx context.Context, job queue.Job) error {
	var evt feature.Event
	if err := json.Unmarshal(job.Payload, &evt); err != nil {
		return fmt.Errorf("decode feature event: %w", err)
	}

	fv, err := e.builder.Build(ctx, evt)
	if err != nil {
		return fmt.Errorf("build features %s: %w", evt.TokenID, err)
	}

	scores := e.scorer.Score(ctx, fv)

	dec, err := e.decider.Decide(ctx, fv, scores)
	if err != nil {
		return fmt.Errorf("decide %s: %w", evt.TokenID, err)
	}
	if !dec.Approved {
		return nil
	}

	payload, err := json.Marshal(dec)
	if err != nil {
		return err
	}
	e.queues.Enqueue(queue.Job{
		ID:      queue.KindPaperFill + ":" + dec.ID,
		Queue:   queue.QueuePaper,
		Kind:    queue.KindPaperFill,
		TokenID: dec.TokenID,
		Payload: payload,
	})
	return nil
}

// handlePaperFill records an approved decision as a paper entry: exposure
// counters move, and the decision is archived.
func (e *Engine) handlePaperFill(ctx context.Context, job queue.Job) error {
	var dec types.Decision
	if err := json.Unmarshal(job.Payload, &dec); err != nil {
		return fmt.Errorf("decode decision: %w", err)
	}

	if err := e.riskMgr.RecordEntry(ctx, dec.TokenID, dec.TargetSizeUSD); err != nil {
		return fmt.Errorf("record entry %s: %w", dec.ID, err)
	}
	if e.archive != nil {
		if err := e.archive.SaveDecision(ctx, dec); err != nil {
			e.logger.Warn("archive decision", "decision", dec.ID, "error", err)
		}
	}

	e.logger.Info("paper fill recorded",
		"decision", dec.ID,
		"token", dec.TokenID,
		"action", dec.Action,
		"side", dec.Side,
		"limit_price", dec.LimitPrice,
		"size_usd", dec.TargetSizeUSD,
	)
	return nil
}

// consumeBookEvents feeds pushed WebSocket snapshots into the collector's
// book intake.
func (e *Engine) consumeBookEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.feed.BookEvents():
			if err := e.col.IngestWSBook(e.ctx, evt); err != nil && e.ctx.Err() == nil {
				e.logger.Warn("ingest ws book", "asset", evt.AssetID, "error", err)
			}
		}
	}
}

// syncSubscriptions reconciles the WS subscription set against the tracked
// tokens in the store, subscribing to newly tracked tokens and dropping
// retired ones.
func (e *Engine) syncSubscriptions() {
	ticker := time.NewTicker(subscriptionSyncInterval)
	defer ticker.Stop()

	current := make(map[string]bool)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}

		tokens, err := e.store.SMembers(e.ctx, store.TrackedTokensKey)
		if err != nil {
			e.logger.Warn("read tracked tokens", "error", err)
			continue
		}

		desired := make(map[string]bool, len(tokens))
		var added, removed []string
		for _, id := range tokens {
			desired[id] = true
			if !current[id] {
				added = append(added, id)
			}
		}
		for id := range current {
			if !desired[id] {
				removed = append(removed, id)
			}
		}

		if len(added) > 0 {
			if err := e.feed.Subscribe(added); err != nil {
				e.logger.Debug("ws subscribe deferred", "count", len(added), "error", err)
				continue
			}
		}
		if len(removed) > 0 {
			if err := e.feed.Unsubscribe(removed); err != nil {
				e.logger.Debug("ws unsubscribe failed", "count", len(removed), "error", err)
			}
		}
		current = desired
	}
}

// dailyReset rolls the daily risk counters over at UTC midnight.
func (e *Engine) dailyReset() {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := e.riskMgr.ResetDaily(e.ctx); err != nil {
				e.logger.Error("daily risk reset", "error", err)
			} else {
				e.logger.Info("daily risk counters reset")
			}
		}
	}
}
