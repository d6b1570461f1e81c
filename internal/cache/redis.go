package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"aibridge-backend/internal/config"
)

// Redis is the Store backed by go-redis. Every operation carries its own
// timeout so a slow Redis never stalls a request.
type Redis struct {
	client  *redis.Client
	ctx     context.Context
	timeout time.Duration
}

func (r *Redis) withTimeout() (context.Context, context.CancelFunc) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(r.ctx, timeout)
}

func wrapRedisError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s redis operation timed out: %w", operation, err)
	}
	return fmt.Errorf("%s redis operation failed: %w", operation, err)
}

// InitRedis connects to Redis and installs it as the Default store.
// A connection failure leaves the in-memory fallback in place and is
// reported to the caller for logging, not treated as fatal.
func InitRedis() error {
	timeoutMS := config.GetEnvInt("REDIS_TIMEOUT_MS", 1500)
	if timeoutMS <= 0 {
		timeoutMS = 1500
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.GetEnv("REDIS_HOST", "localhost"), config.GetEnv("REDIS_PORT", "6379")),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})

	ctx := context.Background()
	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()
	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	Default = &Redis{
		client:  rdb,
		ctx:     ctx,
		timeout: time.Duration(timeoutMS) * time.Millisecond,
	}

	log.Println("✅ Redis cache initialized")
	return nil
}

func (r *Redis) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.withTimeout()
	defer cancel()
	return wrapRedisError("set", r.client.Set(ctx, key, value, ttl).Err())
}

func (r *Redis) Get(key string) ([]byte, error) {
	ctx, cancel := r.withTimeout()
	defer cancel()
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, wrapRedisError("get", err)
	}
	return data, nil
}

func (r *Redis) Delete(key string) error {
	ctx, cancel := r.withTimeout()
	defer cancel()
	return wrapRedisError("delete", r.client.Del(ctx, key).Err())
}

// DeletePattern removes every key matching a glob pattern. SCAN keeps
// this safe against large keyspaces.
func (r *Redis) DeletePattern(pattern string) error {
	ctx, cancel := r.withTimeout()
	defer cancel()

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return wrapRedisError("scan", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return wrapRedisError("delete pattern", r.client.Del(ctx, keys...).Err())
}

func (r *Redis) Ping() error {
	ctx, cancel := r.withTimeout()
	defer cancel()
	return wrapRedisError("ping", r.client.Ping(ctx).Err())
}
