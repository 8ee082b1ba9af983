// Package redis implements ports.Store on Redis with go-redis. Every call is
// one command and is traced with OpenTelemetry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emiliopalmerini/msplit/internal/domain"
)

// Config contains connection settings for the Redis store.
type Config struct {
	URL         string
	PoolSize    int
	DialTimeout time.Duration
}

// DefaultConfig returns a config for a local Redis.
func DefaultConfig() Config {
	return Config{
		URL:         "redis://localhost:6379/0",
		PoolSize:    10,
		DialTimeout: 2 * time.Second,
	}
}

// Store is a Redis-backed ports.Store.
type Store struct {
	client *redis.Client
	tracer trace.Tracer
}

// NewStore connects to Redis and pings it.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", classify(err))
	}
	return NewStoreFromClient(client), nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{
		client: client,
		tracer: otel.Tracer("msplit-redis"),
	}
}

func (s *Store) start(ctx context.Context, op, key string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "redis_"+op)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
		attribute.String("split.key", key),
	)
	return ctx, span
}

// finish records err on span and returns it classified.
func finish(span trace.Span, err error) error {
	defer span.End()
	if err == nil || err == redis.Nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return classify(err)
}

// classify wraps transport failures with domain.ErrStoreUnavailable. Redis
// error replies such as WRONGTYPE are returned unchanged.
func classify(err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := s.start(ctx, "exists", key)
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, finish(span, err)
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := s.start(ctx, "del", keys[0])
	span.SetAttributes(attribute.Int("split.key_count", len(keys)))
	return finish(span, s.client.Del(ctx, keys...).Err())
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := s.start(ctx, "get", key)
	v, err := s.client.Get(ctx, key).Result()
	return v, err == nil, finish(span, err)
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	ctx, span := s.start(ctx, "incr", key)
	n, err := s.client.Incr(ctx, key).Result()
	return n, finish(span, err)
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	ctx, span := s.start(ctx, "hget", key)
	v, err := s.client.HGet(ctx, key, field).Result()
	return v, err == nil, finish(span, err)
}

func (s *Store) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, 0, 2*len(values))
	for f, v := range values {
		args = append(args, f, v)
	}
	ctx, span := s.start(ctx, "hset", key)
	return finish(span, s.client.HSet(ctx, key, args...).Err())
}

func (s *Store) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	ctx, span := s.start(ctx, "hsetnx", key)
	set, err := s.client.HSetNX(ctx, key, field, value).Result()
	return set, finish(span, err)
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	ctx, span := s.start(ctx, "hincrby", key)
	v, err := s.client.HIncrBy(ctx, key, field, n).Result()
	return v, finish(span, err)
}

func (s *Store) HDel(ctx context.Context, key, field string) error {
	ctx, span := s.start(ctx, "hdel", key)
	return finish(span, s.client.HDel(ctx, key, field).Err())
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	ctx, span := s.start(ctx, "sadd", key)
	return finish(span, s.client.SAdd(ctx, key, member).Err())
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	ctx, span := s.start(ctx, "srem", key)
	return finish(span, s.client.SRem(ctx, key, member).Err())
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, span := s.start(ctx, "smembers", key)
	members, err := s.client.SMembers(ctx, key).Result()
	if err := finish(span, err); err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	ctx, span := s.start(ctx, "rpush", key)
	return finish(span, s.client.RPush(ctx, key, args...).Err())
}

func (s *Store) LRange(ctx context.Context, key string) ([]string, error) {
	ctx, span := s.start(ctx, "lrange", key)
	list, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err := finish(span, err); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
