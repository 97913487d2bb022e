package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Options configures the redis-backed store.
type Options struct {
	// ReadyTimeout bounds the initial connectivity check.
	ReadyTimeout time.Duration

	// MaxRetries bounds per-call retries on transient failures.
	MaxRetries int

	Logger *slog.Logger
}

// RedisStore implements Store on a redis cluster or single node.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
	logger     *slog.Logger
}

// NewRedisStore connects to the given redis URL and verifies connectivity
// within the ready timeout. Past the timeout it returns ErrUnavailable so
// the caller can degrade to database-only mode.
func NewRedisStore(url string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ReadyTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	return &RedisStore{
		client:     client,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger.With("component", "ephemeral"),
	}, nil
}

// retry runs op with bounded exponential backoff. redis.Nil is a miss, not a
// failure, and is never retried.
func (s *RedisStore) retry(ctx context.Context, op func() error) error {
	attempt := func() error {
		err := op()
		if err == nil || errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetString(ctx context.Context, key string) (string, bool, error) {
	var val string
	var found bool
	err := s.retry(ctx, func() error {
		v, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return err
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return val, found, nil
}

func (s *RedisStore) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.retry(ctx, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) SetStringNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// Not retried: a retry after an ambiguous failure could observe its own
	// earlier write and misreport the race.
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := s.retry(ctx, func() error {
		m, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		fields = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return s.retry(ctx, func() error {
		pipe := s.client.Pipeline()
		pipe.HSet(ctx, key, flatten(fields)...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) SetAdd(ctx context.Context, key, member string) error {
	return s.retry(ctx, func() error {
		return s.client.SAdd(ctx, key, member).Err()
	})
}

func (s *RedisStore) SetRemove(ctx context.Context, key, member string) error {
	return s.retry(ctx, func() error {
		return s.client.SRem(ctx, key, member).Err()
	})
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := s.retry(ctx, func() error {
		m, err := s.client.SMembers(ctx, key).Result()
		if err != nil {
			return err
		}
		members = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	return keys, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.retry(ctx, func() error {
		v, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.retry(ctx, func() error {
		return s.client.Expire(ctx, key, ttl).Err()
	})
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.retry(ctx, func() error {
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.retry(ctx, func() error {
		return s.client.Publish(ctx, channel, payload).Err()
	})
}

func (s *RedisStore) PatternSubscribe(ctx context.Context, pattern string, handler func(channel string, payload []byte)) (Subscription, error) {
	pubsub := s.client.PSubscribe(ctx, pattern)
	// Wait for the subscription to be confirmed before delivering.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: psubscribe: %v", ErrUnavailable, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()

	return pubsub, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Pipeline returns a client-side batch over the redis pipeline.
func (s *RedisStore) Pipeline() Pipeline {
	return &redisPipeline{store: s, pipe: s.client.Pipeline()}
}

type redisPipeline struct {
	store *RedisStore
	pipe  redis.Pipeliner
}

func (p *redisPipeline) SetString(key, value string, ttl time.Duration) {
	p.pipe.Set(context.Background(), key, value, ttl)
}

func (p *redisPipeline) HashSet(key string, fields map[string]string, ttl time.Duration) {
	ctx := context.Background()
	p.pipe.HSet(ctx, key, flatten(fields)...)
	if ttl > 0 {
		p.pipe.Expire(ctx, key, ttl)
	}
}

func (p *redisPipeline) SetAdd(key, member string) {
	p.pipe.SAdd(context.Background(), key, member)
}

func (p *redisPipeline) SetRemove(key, member string) {
	p.pipe.SRem(context.Background(), key, member)
}

func (p *redisPipeline) Delete(keys ...string) {
	if len(keys) > 0 {
		p.pipe.Del(context.Background(), keys...)
	}
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(context.Background(), key, ttl)
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	if _, err := p.pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: pipeline: %v", ErrUnavailable, err)
	}
	return nil
}

func flatten(fields map[string]string) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
