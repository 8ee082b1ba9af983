package ports

import "context"

// Store is the key-value backend experiments and alternatives persist into.
// It models a subset of Redis: strings, hashes, sets and lists. Each call is a
// single round-trip that applies fully or not at all; Incr and HIncrBy are
// atomic. Transport failures are wrapped with domain.ErrStoreUnavailable.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error

	Get(ctx context.Context, key string) (string, bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key string, values map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HIncrBy(ctx context.Context, key, field string, n int64) (int64, error)
	HDel(ctx context.Context, key, field string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string) ([]string, error)

	Close() error
}
