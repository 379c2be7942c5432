package redispoco

import (
	"context"
	"time"
)

// Storage is the key-value/set substrate the index lives in.
//
// RedisStorage is the production implementation; anything offering hashes,
// sets, sorted sets, expiry, cursor scans and atomic multi-key transactions
// can stand in for it.
type Storage interface {
	// Hash operations. HashGet reports found=false for an absent field.
	HashGet(ctx context.Context, key, field string) (value string, found bool, err error)
	HashSet(ctx context.Context, key, field, value string) error
	HashDelete(ctx context.Context, key string, fields ...string) error
	// HashScan pages through fields; the returned map holds field → value.
	HashScan(ctx context.Context, key string, cursor uint64, count int64) (entries map[string]string, next uint64, err error)

	// Set operations
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	SetUnionStore(ctx context.Context, dest string, keys ...string) error
	SetIntersectStore(ctx context.Context, dest string, keys ...string) error

	// Sorted set operations
	SortedSetAdd(ctx context.Context, key, member string, score float64) error
	SortedSetRemove(ctx context.Context, key string, members ...string) error
	SortedSetScore(ctx context.Context, key, member string) (score float64, found bool, err error)
	SortedSetRangeByScore(ctx context.Context, key string, r Range) ([]ScoredMember, error)

	// Key operations
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL is non-positive for keys without an expiry and for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, next uint64, err error)
	DeleteKeys(ctx context.Context, keys ...string) error
	FlushAll(ctx context.Context) error

	// Begin starts a transaction; nothing reaches the store before Commit.
	Begin() Tx

	Ping(ctx context.Context) error
	Close() error
}

// Tx queues mutations and executes them as one all-or-nothing unit.
type Tx interface {
	HashSet(key, field, value string)
	HashDelete(key string, fields ...string)
	SetAdd(key string, members ...string)
	SetRemove(key string, members ...string)
	SortedSetAdd(key, member string, score float64)
	SortedSetRemove(key string, members ...string)

	// Len returns the number of queued operations.
	Len() int
	Commit(ctx context.Context) error
}

// ScoredMember is one entry of a sorted set.
type ScoredMember struct {
	Member string
	Score  float64
}
