// redis.go implements Store on Redis. TTLs map to native key expiry and
// Consume maps to GETDEL, so single-use semantics hold across instances.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a Redis server.
type RedisStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies connectivity with a ping
// before returning. Call once at startup; the store is safe for concurrent use.
func NewRedisStore(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{
		rdb:    rdb,
		logger: logger.With("component", "store.redis"),
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", redisKey(key), err)
	}
	return val, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // go-redis: 0 = no expiry
	}
	if err := s.rdb.Set(ctx, redisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", redisKey(key), err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", redisKey(key), err)
	}
	return nil
}

// Update performs a plain read-modify-write. Concurrent writers for the
// same key are already serialized upstream (the gateway groups deliveries
// per conversation), so no WATCH transaction is needed here.
func (s *RedisStore) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	old, found, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	next, ttl, err := fn(old, found)
	if err != nil {
		return err
	}
	if next == nil {
		return s.Delete(ctx, key)
	}
	return s.Put(ctx, key, next, ttl)
}

// Consume uses GETDEL so that at most one caller observes the value.
func (s *RedisStore) Consume(ctx context.Context, key Key) ([]byte, bool, error) {
	val, err := s.rdb.GetDel(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis getdel %s: %w", redisKey(key), err)
	}
	return val, true, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// redisKey flattens a two-part key into the flat redis keyspace.
func redisKey(key Key) string {
	return key.Partition + "#" + key.Sort
}
