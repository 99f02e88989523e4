// Package store abstracts the shared keyed state behind the pipeline.
//
// Every piece of per-token state — rolling windows, digests, estimator state,
// staleness records, circuit-breaker latches, the tracked-token set — lives
// behind the Store interface. Workers never share in-memory state; an
// estimator that must span events is hydrated from the store, updated, and
// written back within the same job.
//
// Two implementations are provided:
//   - Redis (production) — strings, hashes, sorted sets, sets, TTLs.
//   - Memory (tests)     — preserves score ordering and TTL semantics, with
//     an injectable clock so expiry can be tested deterministically.
package store

import (
	"context"
	"time"
)

// ZMember is one entry of a sorted set: an opaque value ordered by score.
// Windows use epoch-millisecond timestamps as scores.
type ZMember struct {
	Score  float64
	Member string
}

// Store is the keyed state backend. All methods are safe for concurrent use.
// A ttl of 0 means no expiry.
type Store interface {
	// Strings
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)

	// Hashes
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) error

	// Sorted sets (score-ordered). ZRangeByScore returns members with
	// min ≤ score ≤ max in ascending score order.
	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ZMember, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Expiry
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}
