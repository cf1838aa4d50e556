package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// RedisBackend stores entries in Redis with native TTLs.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend parses a redis:// URL, connects and pings once. The dial
// timeout bounds both the TCP dial and the ping.
func NewRedisBackend(ctx context.Context, url string, dialTimeout time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}
	// One-shot connect: a failed dial surfaces immediately instead of being retried.
	opts.MaxRetries = -1

	client := redis.NewClient(opts)
	b := &RedisBackend{client: client}
	if err := b.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return b, nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeletePrefix walks the keyspace with SCAN and deletes matches in batches.
func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		cleared []string
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		cleared = append(cleared, batch...)
		batch = batch[:0]
		return nil
	}

	iter := b.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return cleared, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return cleared, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return cleared, err
	}
	return cleared, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
