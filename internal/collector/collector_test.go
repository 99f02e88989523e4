package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"polysentry/internal/config"
	"polysentry/internal/freshness"
	"polysentry/internal/market"
	"polysentry/internal/queue"
	"polysentry/internal/store"
	"polysentry/pkg/types"
)

const (
	tokYes = "71000000000000000000000000000000000000000000000000000000000000000001"
	tokNo  = "71000000000000000000000000000000000000000000000000000000000000000002"
	condID = "0xfeed000000000000000000000000000000000000000000000000000000000001"
	taker  = "0x1111111111111111111111111111111111111111"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAPI struct {
	mu          sync.Mutex
	markets     []types.GammaMarket
	book        *types.BookResponse
	trades      []types.PublicTrade
	marketsErr  error
	bookErr     error
	tradesErr   error
	tradeCalls  int
	marketCalls int
}

func (f *fakeAPI) ListMarkets(context.Context) ([]types.GammaMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls++
	return f.markets, f.marketsErr
}

func (f *fakeAPI) GetOrderBook(_ context.Context, tokenID string) (*types.BookResponse, error) {
	return f.book, f.bookErr
}

func (f *fakeAPI) GetRecentTrades(_ context.Context, tokenID string, limit int) ([]types.PublicTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeCalls++
	return f.trades, f.tradesErr
}

type fakeWallets struct {
	mu       sync.Mutex
	enriched map[string]int
	seen     map[string]int
	trades   int
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{enriched: make(map[string]int), seen: make(map[string]int)}
}

func (f *fakeWallets) Enrich(_ context.Context, address string) (types.WalletProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enriched[address]++
	return types.WalletProfile{Address: address}, nil
}

func (f *fakeWallets) MarkSeen(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[address]++
	return nil
}

func (f *fakeWallets) RecordTrade(_ context.Context, _, _ string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades++
}

func (f *fakeWallets) enrichCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enriched[address]
}

type fixture struct {
	col     *Collector
	store   *store.Memory
	api     *fakeAPI
	wallets *fakeWallets
	queues  *queue.Manager
	nowMs   int64
}

func newFixture(t *testing.T, discovery config.DiscoveryConfig) *fixture {
	t.Helper()
	base := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return base }

	mem := store.NewMemoryAt(clock)
	api := &fakeAPI{}
	wallets := newFakeWallets()
	tracker := freshness.NewTrackerAt(mem, clock)
	queues := queue.NewManager(testLogger())
	queues.AddQueue(queue.QueueFeatures, 1, 0)

	col := New(mem, api, wallets, tracker, queues, nil, discovery, testLogger())
	col.now = clock
	return &fixture{col: col, store: mem, api: api, wallets: wallets, queues: queues, nowMs: base.UnixMilli()}
}

func discoveryCfg() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		Interval:       5 * time.Minute,
		TrackedHorizon: 24 * time.Hour,
		MinVolume:      1000,
		MinLiquidity:   500,
		ExcludeWords:   []string{"test"},
	}
}

func gammaMarket(cond, question, endISO string, volume, liquidity float64) types.GammaMarket {
	return types.GammaMarket{
		ConditionID:  cond,
		Question:     question,
		EndDateISO:   endISO,
		Active:       true,
		Volume:       fmt.Sprintf("%.0f", volume),
		Liquidity:    fmt.Sprintf("%.0f", liquidity),
		Outcomes:     `["Yes","No"]`,
		ClobTokenIds: fmt.Sprintf(`[%q,%q]`, tokYes, tokNo),
	}
}

func TestHandleDiscoveryTracksAndFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t, discoveryCfg())
	ctx := context.Background()

	endsIn6h := time.UnixMilli(f.nowMs).Add(6 * time.Hour).UTC().Format(time.RFC3339)
	endsIn3d := time.UnixMilli(f.nowMs).Add(72 * time.Hour).UTC().Format(time.RFC3339)

	lowVolume := gammaMarket("0xlow", "Will volume be low?", endsIn6h, 10, 600)
	closed := gammaMarket("0xclosed", "Already settled?", endsIn6h, 5000, 600)
	closed.Closed = true
	excluded := gammaMarket("0xword", "Is this a test market?", endsIn6h, 5000, 600)
	tooFar := gammaMarket("0xfar", "Will it happen in three days?", endsIn3d, 5000, 600)
	good := gammaMarket(condID, "Will the measure pass?", endsIn6h, 5000, 600)

	f.api.markets = []types.GammaMarket{lowVolume, closed, excluded, tooFar, good}

	if err := f.col.HandleDiscovery(ctx, queue.Job{}); err != nil {
		t.Fatal(err)
	}

	tracked, err := f.store.SMembers(ctx, store.TrackedTokensKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 2 {
		t.Fatalf("tracked tokens = %v, want the good market's two outcomes", tracked)
	}

	raw, ok, err := f.store.Get(ctx, store.MarketMetadataKey(condID))
	if err != nil || !ok {
		t.Fatalf("metadata not cached: ok=%v err=%v", ok, err)
	}
	var md types.MarketMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		t.Fatal(err)
	}
	if md.Outcomes[0].TokenID != tokYes || md.Outcomes[1].TokenID != tokNo {
		t.Fatalf("outcomes = %+v", md.Outcomes)
	}

	cond, ok, err := f.store.Get(ctx, store.TokenConditionKey(tokYes))
	if err != nil || !ok || cond != condID {
		t.Fatalf("token condition mapping = %q ok=%v err=%v", cond, ok, err)
	}
}

func TestHandleDiscoveryRetiresEndedMarkets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, discoveryCfg())
	ctx := context.Background()

	// Track a market that ended 10 minutes ago (past the 5-minute grace).
	ended := gammaMarket(condID, "Did it end?",
		time.UnixMilli(f.nowMs).Add(-10*time.Minute).UTC().Format(time.RFC3339), 5000, 600)
	md, err := parseForTest(ended)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.col.trackMarket(ctx, md); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(ctx, store.BookStateKey(tokYes), "{}", 0); err != nil {
		t.Fatal(err)
	}

	f.api.markets = nil
	if err := f.col.HandleDiscovery(ctx, queue.Job{}); err != nil {
		t.Fatal(err)
	}

	tracked, err := f.store.SMembers(ctx, store.TrackedTokensKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 0 {
		t.Fatalf("tracked tokens = %v, want empty after retirement", tracked)
	}
	if _, ok, _ := f.store.Get(ctx, store.BookStateKey(tokYes)); ok {
		t.Fatal("derived book state not deleted")
	}
	if _, ok, _ := f.store.Get(ctx, store.MarketMetadataKey(condID)); ok {
		t.Fatal("metadata not deleted")
	}
}

func TestHandleOrderbook(t *testing.T) {
	t.Parallel()
	f := newFixture(t, discoveryCfg())
	ctx := context.Background()

	if err := f.store.Set(ctx, store.TokenConditionKey(tokYes), condID, 0); err != nil {
		t.Fatal(err)
	}
	f.api.book = &types.BookResponse{
		Market:    condID,
		AssetID:   tokYes,
		Timestamp: fmt.Sprintf("%d", f.nowMs),
		Bids: []types.RawPriceLevel{
			{Price: "0.49", Size: "1000"},
			{Price: "0.46", Size: "1000"},
		},
		Asks: []types.RawPriceLevel{
			{Price: "0.51", Size: "800"},
		},
	}

	if err := f.col.HandleOrderbook(ctx, queue.Job{TokenID: tokYes}); err != nil {
		t.Fatal(err)
	}

	raw, ok, err := f.store.Get(ctx, store.BookStateKey(tokYes))
	if err != nil || !ok {
		t.Fatalf("book state not cached: ok=%v err=%v", ok, err)
	}
	var state types.BookState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		t.Fatal(err)
	}
	if state.Metrics.BestBid != 0.49 || state.Metrics.BestAsk != 0.51 {
		t.Fatalf("touch = %.2f/%.2f", state.Metrics.BestBid, state.Metrics.BestAsk)
	}

	if n, _ := f.store.ZCard(ctx, store.BookWindowKey(tokYes)); n != 1 {
		t.Fatalf("book window size = %d, want 1", n)
	}
	if _, ok, _ := f.store.Get(ctx, store.CUSUMKey(tokYes, "spread")); !ok {
		t.Fatal("spread cusum state not persisted")
	}
	if _, ok, _ := f.store.Get(ctx, store.StalenessKey("orderbook", tokYes)); !ok {
		t.Fatal("orderbook freshness not touched")
	}
	if pending := f.queues.Stats()[queue.QueueFeatures].Pending; pending != 1 {
		t.Fatalf("feature jobs pending = %d, want 1", pending)
	}
}

func publicTrade(hash string, sizeUSD float64, tsSec int64) types.PublicTrade {
	return types.PublicTrade{
		ProxyWallet:     taker,
		Side:            "BUY",
		Asset:           tokYes,
		ConditionID:     condID,
		Size:            sizeUSD / 0.5,
		Price:           0.5,
		Timestamp:       tsSec,
		TransactionHash: hash,
	}
}

func TestHandleTradesIngestsAndDeduplicates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, discoveryCfg())
	ctx := context.Background()

	nowSec := f.nowMs / 1000
	f.api.trades = []types.PublicTrade{
		publicTrade("0xaaa1", 120, nowSec-30),
		publicTrade("0xaaa2", 90, nowSec-10),
	}

	if err := f.col.HandleTrades(ctx, queue.Job{TokenID: tokYes}); err != nil {
		t.Fatal(err)
	}
	// Second poll returns the same trades: nothing new may be appended.
	if err := f.col.HandleTrades(ctx, queue.Job{TokenID: tokYes}); err != nil {
		t.Fatal(err)
	}

	if n, _ := f.store.ZCard(ctx, store.TradeWindowKey(tokYes)); n != 2 {
		t.Fatalf("trade window size = %d, want 2 after dedupe", n)
	}
	if got := f.wallets.enrichCount(taker); got != 1 {
		t.Fatalf("wallet enriched %d times, want 1 (first sighting only)", got)
	}
	for _, key := range []string{
		store.HawkesKey(tokYes),
		store.CUSUMKey(tokYes, "size"),
		store.SizeDigestKey(tokYes),
	} {
		if _, ok, _ := f.store.Get(ctx, key); !ok {
			t.Fatalf("estimator state %s not persisted", key)
		}
	}
	if pending := f.queues.Stats()[queue.QueueFeatures].Pending; pending != 2 {
		t.Fatalf("feature jobs pending = %d, want 2", pending)
	}
	// Freshness follows the newest ingested trade's own timestamp.
	raw, ok, _ := f.store.Get(ctx, store.StalenessKey("trade", tokYes))
	if !ok {
		t.Fatal("trade freshness not touched")
	}
	if want := strconv.FormatInt((nowSec-10)*1000, 10); raw != want {
		t.Fatalf("trade freshness = %s, want latest trade timestamp %s", raw, want)
	}
}

func TestHandleTradesEmptyPollDoesNotRefreshFreshness(t *testing.T) {
	t.Parallel()
	f := newFixture(t, discoveryCfg())
	ctx := context.Background()

	f.api.trades = nil
	if err := f.col.HandleTrades(ctx, queue.Job{TokenID: tokYes}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := f.store.Get(ctx, store.StalenessKey("trade", tokYes)); ok {
		t.Fatal("empty poll must not refresh trade freshness")
	}

	// Ingest once, then clear the record: a poll returning only already-seen
	// trades must not bring it back.
	f.api.trades = []types.PublicTrade{publicTrade("0xccc1", 80, f.nowMs/1000-40)}
	if err := f.col.HandleTrades(ctx, queue.Job{TokenID: tokYes}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Del(ctx, store.StalenessKey("trade", tokYes)); err != nil {
		t.Fatal(err)
	}
	if err := f.col.HandleTrades(ctx, queue.Job{TokenID: tokYes}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := f.store.Get(ctx, store.StalenessKey("trade", tokYes)); ok {
		t.Fatal("dedupe-only poll must not refresh trade freshness")
	}
}

func TestHandleTradesTrimsWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, discoveryCfg())
	ctx := context.Background()

	// A stale member 2h old sits in the window before the poll.
	old := types.Trade{ID: "old", TokenID: tokYes, ConditionID: condID,
		Timestamp: f.nowMs - 2*3600*1000, Side: types.BUY, Price: 0.5, Size: 10, TakerAddress: taker}
	oldData, _ := json.Marshal(old)
	if err := f.store.ZAdd(ctx, store.TradeWindowKey(tokYes),
		store.ZMember{Score: float64(old.Timestamp), Member: string(oldData)}); err != nil {
		t.Fatal(err)
	}

	f.api.trades = []types.PublicTrade{publicTrade("0xbbb1", 150, f.nowMs/1000-5)}
	if err := f.col.HandleTrades(ctx, queue.Job{TokenID: tokYes}); err != nil {
		t.Fatal(err)
	}

	members, err := f.store.ZRangeByScore(ctx, store.TradeWindowKey(tokYes), math.Inf(-1), math.Inf(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 {
		t.Fatalf("window size = %d, want 1 (stale member trimmed)", len(members))
	}
	var kept types.Trade
	if err := json.Unmarshal([]byte(members[0].Member), &kept); err != nil {
		t.Fatal(err)
	}
	if kept.ID != "0xbbb1" {
		t.Fatalf("kept trade = %s, want 0xbbb1", kept.ID)
	}
}

func parseForTest(gm types.GammaMarket) (types.MarketMetadata, error) {
	return market.ParseGammaMarket(gm)
}
