package store

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the production Store backed by a single Redis instance.
type Redis struct {
	client *redis.Client
}

// OpenRedis connects to Redis and verifies the connection with a short ping.
func OpenRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	val, err := r.client.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incrbyfloat %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := r.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func (r *Redis) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	if err := r.client.ZAdd(ctx, key, zs...).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

func (r *Redis) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ZMember, error) {
	zs, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	out := make([]ZMember, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		out[i] = ZMember{Score: z.Score, Member: member}
	}
	return out, nil
}

func (r *Redis) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, fmt.Errorf("zremrangebyscore %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	val, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// formatScore renders a score bound for ZRANGEBYSCORE, mapping infinities to
// the -inf/+inf sentinels Redis expects.
func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
