package queue

import (
	"context"
	"log/slog"
	"time"

	"polysentry/internal/store"
)

// Job kinds. The scheduler emits the first three; collectors emit feature
// jobs, and the decision pipeline emits paper fills.
const (
	KindDiscovery = "discovery"
	KindOrderbook = "orderbook"
	KindTradePoll = "trades"
	KindFeatures  = "features"
	KindPaperFill = "paper_fill"
)

// Scheduler is the single owner of periodic job emission: one discovery tick
// per interval, one book and one trade job per tracked token per tick.
// Pending-dedupe in the manager keeps a slow worker from stacking repeats.
type Scheduler struct {
	store             store.Store
	manager           *Manager
	discoveryInterval time.Duration
	bookInterval      time.Duration
	tradeInterval     time.Duration
	logger            *slog.Logger
}

func NewScheduler(
	s store.Store,
	m *Manager,
	discoveryInterval, bookInterval, tradeInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:             s,
		manager:           m,
		discoveryInterval: discoveryInterval,
		bookInterval:      bookInterval,
		tradeInterval:     tradeInterval,
		logger:            logger.With("component", "scheduler"),
	}
}

// Run ticks until ctx is cancelled. Discovery fires once immediately so a
// fresh process starts tracking markets without waiting a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	discovery := time.NewTicker(s.discoveryInterval)
	defer discovery.Stop()
	books := time.NewTicker(s.bookInterval)
	defer books.Stop()
	trades := time.NewTicker(s.tradeInterval)
	defer trades.Stop()

	s.enqueueDiscovery()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-discovery.C:
			s.enqueueDiscovery()
		case <-books.C:
			s.enqueuePerToken(ctx, KindOrderbook)
		case <-trades.C:
			s.enqueuePerToken(ctx, KindTradePoll)
		}
	}
}

func (s *Scheduler) enqueueDiscovery() {
	job, err := NewJob(QueueNormalize, KindDiscovery, "", nil)
	if err != nil {
		s.logger.Error("build discovery job", "error", err)
		return
	}
	s.manager.Enqueue(job)
}

func (s *Scheduler) enqueuePerToken(ctx context.Context, kind string) {
	tokens, err := s.store.SMembers(ctx, store.TrackedTokensKey)
	if err != nil {
		s.logger.Warn("read tracked tokens", "error", err)
		return
	}
	for _, tokenID := range tokens {
		job, jerr := NewJob(QueueNormalize, kind, tokenID, nil)
		if jerr != nil {
			s.logger.Error("build job", "kind", kind, "error", jerr)
			continue
		}
		s.manager.Enqueue(job)
	}
}
