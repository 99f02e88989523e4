// Package wallet enriches taker addresses with on-chain age and activity.
//
// Enrichment is cache-first with a 30-day TTL; on a miss the enricher blocks
// the emitting job until the block explorer resolves the wallet's first
// transaction, transaction count, and contract status. Concurrent lookups for
// the same address are coalesced through singleflight so one burst of trades
// from a new wallet costs one explorer round-trip.
//
// Failures never propagate: a sentinel profile with a short TTL is written
// and the caller proceeds with neutral defaults.
package wallet

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"polysentry/internal/store"
	"polysentry/pkg/types"
)

// sentinelTTL bounds how long a failed enrichment suppresses retries.
const sentinelTTL = time.Hour

// ChainReader is the slice of the block-explorer client the enricher uses.
type ChainReader interface {
	FirstTransaction(ctx context.Context, address string) (*TxRef, error)
	TransactionCount(ctx context.Context, address string) (int64, error)
	IsContract(ctx context.Context, address string) (bool, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// TxRef locates a wallet's earliest transaction.
type TxRef struct {
	Block  int64
	TimeMs int64
}

// Enricher resolves wallet profiles through the cache and the chain reader.
type Enricher struct {
	store  store.Store
	chain  ChainReader
	sf     singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

func NewEnricher(s store.Store, chain ChainReader, logger *slog.Logger) *Enricher {
	return &Enricher{
		store:  s,
		chain:  chain,
		logger: logger.With("component", "wallet_enricher"),
		now:    time.Now,
	}
}

// Enrich returns the wallet's profile, from cache when possible. It never
// returns an error for enrichment failures — those degrade to an unknown
// profile — only for context cancellation.
func (e *Enricher) Enrich(ctx context.Context, address string) (types.WalletProfile, error) {
	if cached, ok := e.readCache(ctx, address); ok {
		return cached, nil
	}

	v, err, _ := e.sf.Do(address, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have filled it.
		if cached, ok := e.readCache(ctx, address); ok {
			return cached, nil
		}
		return e.fetchAndCache(ctx, address), nil
	})
	if err != nil {
		return types.WalletProfile{Address: address, Unknown: true}, err
	}
	if ctx.Err() != nil {
		return types.WalletProfile{Address: address, Unknown: true}, ctx.Err()
	}
	return v.(types.WalletProfile), nil
}

// MarkSeen records the first time an address showed up in the trade feed.
func (e *Enricher) MarkSeen(ctx context.Context, address string) error {
	nowMs := strconv.FormatInt(e.now().UnixMilli(), 10)
	_, err := e.store.SetNX(ctx, store.WalletFirstSeenKey(address), nowMs, 0)
	return err
}

// RecordTrade folds one observed venue trade into the wallet's activity
// counters. Counters only exist for wallets already in the cache.
func (e *Enricher) RecordTrade(ctx context.Context, address, conditionID string, notionalUSD float64) {
	profile, ok := e.readCache(ctx, address)
	if !ok {
		return
	}
	profile.TradeCount++
	profile.TotalVolume += notionalUSD

	marketsKey := store.WalletEnrichedKey(address) + ":markets"
	if added := e.trackMarket(ctx, marketsKey, conditionID); added {
		profile.MarketsTraded++
	}
	e.writeCache(ctx, profile, store.WalletTTL)
}

func (e *Enricher) trackMarket(ctx context.Context, key, conditionID string) bool {
	seen, err := e.store.SIsMember(ctx, key, conditionID)
	if err != nil || seen {
		return false
	}
	if err := e.store.SAdd(ctx, key, conditionID); err != nil {
		return false
	}
	_ = e.store.Expire(ctx, key, store.WalletTTL)
	return true
}

// fetchAndCache resolves the wallet on-chain. Any failure produces the
// sentinel profile so the pipeline keeps moving.
func (e *Enricher) fetchAndCache(ctx context.Context, address string) types.WalletProfile {
	profile := types.WalletProfile{
		Address:        address,
		LastEnrichedAt: e.now().UnixMilli(),
	}

	first, err := e.chain.FirstTransaction(ctx, address)
	if err != nil {
		e.logger.Warn("enrichment failed, writing sentinel", "address", address, "error", err)
		profile.Unknown = true
		e.writeCache(ctx, profile, sentinelTTL)
		return profile
	}
	if first != nil {
		profile.FirstSeenAt = first.TimeMs
		profile.FirstSeenBlock = first.Block
	}

	if count, err := e.chain.TransactionCount(ctx, address); err == nil {
		profile.TxCount = count
	} else {
		e.logger.Debug("tx count lookup failed", "address", address, "error", err)
	}
	if isContract, err := e.chain.IsContract(ctx, address); err == nil {
		profile.IsContract = isContract
	}
	if wei, err := e.chain.Balance(ctx, address); err == nil && wei != nil {
		profile.BalanceNative = weiToNative(wei)
	} else if err != nil {
		e.logger.Debug("balance lookup failed", "address", address, "error", err)
	}

	e.writeCache(ctx, profile, store.WalletTTL)
	return profile
}

// weiToNative converts a wei amount to whole native-token units. Precision
// loss past float64 is acceptable for an activity signal.
func weiToNative(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}

func (e *Enricher) readCache(ctx context.Context, address string) (types.WalletProfile, bool) {
	fields, err := e.store.HGetAll(ctx, store.WalletEnrichedKey(address))
	if err != nil || len(fields) == 0 {
		return types.WalletProfile{}, false
	}
	return profileFromFields(address, fields), true
}

func (e *Enricher) writeCache(ctx context.Context, profile types.WalletProfile, ttl time.Duration) {
	key := store.WalletEnrichedKey(profile.Address)
	if err := e.store.HSet(ctx, key, profileToFields(profile)); err != nil {
		e.logger.Warn("cache write failed", "address", profile.Address, "error", err)
		return
	}
	if err := e.store.Expire(ctx, key, ttl); err != nil {
		e.logger.Warn("cache expire failed", "address", profile.Address, "error", err)
	}
}

func profileToFields(p types.WalletProfile) map[string]string {
	return map[string]string{
		"firstSeenAt":    strconv.FormatInt(p.FirstSeenAt, 10),
		"firstSeenBlock": strconv.FormatInt(p.FirstSeenBlock, 10),
		"txCount":        strconv.FormatInt(p.TxCount, 10),
		"tradeCount":     strconv.FormatInt(p.TradeCount, 10),
		"marketsTraded":  strconv.FormatInt(p.MarketsTraded, 10),
		"totalVolume":    strconv.FormatFloat(p.TotalVolume, 'f', -1, 64),
		"balanceNative":  strconv.FormatFloat(p.BalanceNative, 'f', -1, 64),
		"isContract":     strconv.FormatBool(p.IsContract),
		"lastEnrichedAt": strconv.FormatInt(p.LastEnrichedAt, 10),
		"unknown":        strconv.FormatBool(p.Unknown),
	}
}

func profileFromFields(address string, fields map[string]string) types.WalletProfile {
	parseInt := func(k string) int64 {
		v, _ := strconv.ParseInt(fields[k], 10, 64)
		return v
	}
	volume, _ := strconv.ParseFloat(fields["totalVolume"], 64)
	balance, _ := strconv.ParseFloat(fields["balanceNative"], 64)
	return types.WalletProfile{
		Address:        address,
		FirstSeenAt:    parseInt("firstSeenAt"),
		FirstSeenBlock: parseInt("firstSeenBlock"),
		TxCount:        parseInt("txCount"),
		TradeCount:     parseInt("tradeCount"),
		MarketsTraded:  parseInt("marketsTraded"),
		TotalVolume:    volume,
		BalanceNative:  balance,
		IsContract:     fields["isContract"] == "true",
		LastEnrichedAt: parseInt("lastEnrichedAt"),
		Unknown:        fields["unknown"] == "true",
	}
}
