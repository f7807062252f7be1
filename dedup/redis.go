package dedup

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces dedup keys in a shared redis
const DefaultRedisPrefix = "meditime:dedup:"

const scanCount = 100

// Redis is a Cache shared through a redis server. Entries expire on their own
// after the configured max age.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to the redis at redisURL and verifies it is reachable
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3

	if opts.TLSConfig == nil && strings.HasPrefix(redisURL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisWithClient(rdb, DefaultRedisPrefix, ttl), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Close the underlying client
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Get the time the key was last marked
func (r *Redis) Get(ctx context.Context, key string) (time.Time, bool, error) {
	at, err := r.get(ctx, r.prefix+key)
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, err
	}

	return at, true, nil
}

func (r *Redis) get(ctx context.Context, fullKey string) (time.Time, error) {
	val, err := r.rdb.Get(ctx, fullKey).Result()
	if err != nil {
		return time.Time{}, err
	}

	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("dedup entry %s holds %q: %w", fullKey, val, err)
	}

	return at, nil
}

// Set marks the key
func (r *Redis) Set(ctx context.Context, key string, at time.Time) error {
	if err := r.rdb.Set(ctx, r.prefix+key, at.Format(time.RFC3339Nano), r.ttl).Err(); err != nil {
		return fmt.Errorf("unable to mark dedup key %s: %w", key, err)
	}

	return nil
}

// EvictOlderThan removes entries marked before cutoff
func (r *Redis) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	evicted := 0
	err := r.scan(ctx, func(keys []string) error {
		for _, key := range keys {
			at, err := r.get(ctx, key)
			if errors.Is(err, redis.Nil) {
				continue
			}

			if err == nil && !at.Before(cutoff) {
				continue
			}

			// unparsable entries are dropped too
			n, err := r.rdb.Del(ctx, key).Result()
			if err != nil {
				return err
			}

			evicted += int(n)
		}

		return nil
	})

	return evicted, err
}

// Clear removes every entry under the prefix
func (r *Redis) Clear(ctx context.Context) error {
	return r.scan(ctx, func(keys []string) error {
		return r.rdb.Del(ctx, keys...).Err()
	})
}

// Len is the number of entries under the prefix
func (r *Redis) Len(ctx context.Context) (int, error) {
	count := 0
	err := r.scan(ctx, func(keys []string) error {
		count += len(keys)
		return nil
	})

	return count, err
}

func (r *Redis) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.prefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("unable to scan dedup keys: %w", err)
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return fmt.Errorf("unable to process dedup keys: %w", err)
			}
		}

		if next == 0 {
			return nil
		}

		cursor = next
	}
}
