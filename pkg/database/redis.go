package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the pooled client shared by the caches and the rate limiter
type Redis struct {
	Client *redis.Client
}

// RedisOption tunes the client before the first connection
type RedisOption func(*redis.Options)

// WithPoolSize caps the connections per CPU pool
func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) {
		if n > 0 {
			o.PoolSize = n
		}
	}
}

// WithTimeouts sets the dial timeout and the per command read/write timeout
func WithTimeouts(dial, command time.Duration) RedisOption {
	return func(o *redis.Options) {
		if dial > 0 {
			o.DialTimeout = dial
		}
		if command > 0 {
			o.ReadTimeout = command
			o.WriteTimeout = command
		}
	}
}

// NewRedis connects to addr and verifies the connection with PING
func NewRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	options := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Redis{Client: client}, nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
