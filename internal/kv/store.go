// Package kv is the ephemeral state store: short-lived values with a TTL
// (OTP codes, cooldown markers, Telegram correlation, blacklist entries).
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every backend failure
var ErrUnavailable = errors.New("ephemeral store unavailable")

// Store is the set of single-key atomic operations the auth core relies on
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only when key is absent and reports whether it did
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime, 0 for a missing or persistent key
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del returns how many of keys were removed
	Del(ctx context.Context, keys ...string) (int64, error)
	// IncrWithTTL increments a counter and starts its TTL when it has none
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

// NewRedisClient dials Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", ErrUnavailable, op, err)
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}
	return val, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return ok, nil
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	// -2 missing, -1 no expiry
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *redisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable("del", err)
	}
	return n, nil
}

// IncrWithTTL reads the counter and its TTL in one transaction and sets the
// TTL whenever the key has none, so a failed EXPIRE is retried on the next call.
func (s *redisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, unavailable("incr", err)
	}
	if pttl.Val() < 0 {
		if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return 0, unavailable("expire", err)
		}
	}
	return incr.Val(), nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
