package redispoco

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage on top of a go-redis client.
type RedisStorage struct {
	redis      *redis.Client
	ownsClient bool // If true, Close() will close the Redis client
}

// NewRedisStorage wraps an existing client. Close leaves the client open.
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{redis: client}
}

// NewRedisStorageWithOwnedClient wraps a client that Close will shut down.
func NewRedisStorageWithOwnedClient(client *redis.Client) *RedisStorage {
	return &RedisStorage{redis: client, ownsClient: true}
}

// Connect dials Redis with opts and verifies the connection with PING.
// The returned storage owns the client.
func Connect(ctx context.Context, opts *redis.Options) (*RedisStorage, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStorageWithOwnedClient(client), nil
}

// Client returns the underlying go-redis client.
func (r *RedisStorage) Client() *redis.Client {
	return r.redis
}

func (r *RedisStorage) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := r.redis.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisStorage) HashSet(ctx context.Context, key, field, value string) error {
	return r.redis.HSet(ctx, key, field, value).Err()
}

func (r *RedisStorage) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.redis.HDel(ctx, key, fields...).Err()
}

func (r *RedisStorage) HashScan(ctx context.Context, key string, cursor uint64, count int64) (map[string]string, uint64, error) {
	pairs, next, err := r.redis.HScan(ctx, key, cursor, "", count).Result()
	if err != nil {
		return nil, 0, err
	}
	entries := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		entries[pairs[i]] = pairs[i+1]
	}
	return entries, next, nil
}

func (r *RedisStorage) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.redis.SAdd(ctx, key, toArgs(members)...).Err()
}

func (r *RedisStorage) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.redis.SRem(ctx, key, toArgs(members)...).Err()
}

func (r *RedisStorage) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.redis.SMembers(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	return members, err
}

func (r *RedisStorage) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.redis.SIsMember(ctx, key, member).Result()
}

func (r *RedisStorage) SetUnionStore(ctx context.Context, dest string, keys ...string) error {
	return r.redis.SUnionStore(ctx, dest, keys...).Err()
}

func (r *RedisStorage) SetIntersectStore(ctx context.Context, dest string, keys ...string) error {
	return r.redis.SInterStore(ctx, dest, keys...).Err()
}

func (r *RedisStorage) SortedSetAdd(ctx context.Context, key, member string, score float64) error {
	return r.redis.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *RedisStorage) SortedSetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.redis.ZRem(ctx, key, toArgs(members)...).Err()
}

func (r *RedisStorage) SortedSetScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := r.redis.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (r *RedisStorage) SortedSetRangeByScore(ctx context.Context, key string, rng Range) ([]ScoredMember, error) {
	zs, err := r.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: scoreBound(rng.Min, "-inf"),
		Max: scoreBound(rng.Max, "+inf"),
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (r *RedisStorage) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.redis.Expire(ctx, key, ttl).Err()
}

func (r *RedisStorage) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.redis.TTL(ctx, key).Result()
}

func (r *RedisStorage) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	return r.redis.Scan(ctx, cursor, pattern, count).Result()
}

func (r *RedisStorage) DeleteKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.redis.Del(ctx, keys...).Err()
}

func (r *RedisStorage) FlushAll(ctx context.Context) error {
	return r.redis.FlushDB(ctx).Err()
}

func (r *RedisStorage) Begin() Tx {
	return &redisTx{client: r.redis}
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}

// Close releases resources held by the storage
// If the storage owns the Redis client, it will be closed
func (r *RedisStorage) Close() error {
	if r.ownsClient && r.redis != nil {
		return r.redis.Close()
	}
	return nil
}

// redisTx buffers commands and replays them inside MULTI/EXEC on Commit.
type redisTx struct {
	client *redis.Client
	ops    []func(ctx context.Context, pipe redis.Pipeliner)
}

func (t *redisTx) queue(op func(ctx context.Context, pipe redis.Pipeliner)) {
	t.ops = append(t.ops, op)
}

func (t *redisTx) HashSet(key, field, value string) {
	t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.HSet(ctx, key, field, value) })
}

func (t *redisTx) HashDelete(key string, fields ...string) {
	if len(fields) == 0 {
		return
	}
	t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.HDel(ctx, key, fields...) })
}

func (t *redisTx) SetAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.SAdd(ctx, key, toArgs(members)...) })
}

func (t *redisTx) SetRemove(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.SRem(ctx, key, toArgs(members)...) })
}

func (t *redisTx) SortedSetAdd(key, member string, score float64) {
	t.queue(func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	})
}

func (t *redisTx) SortedSetRemove(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.ZRem(ctx, key, toArgs(members)...) })
}

func (t *redisTx) Len() int {
	return len(t.ops)
}

func (t *redisTx) Commit(ctx context.Context) error {
	if len(t.ops) == 0 {
		return nil
	}
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range t.ops {
			op(ctx, pipe)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction of %d operations failed: %w", len(t.ops), err)
	}
	return nil
}

func scoreBound(bound *int64, unbounded string) string {
	if bound == nil {
		return unbounded
	}
	return strconv.FormatInt(*bound, 10)
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
