package ratelimit

import (
	"context"
	"fmt"
	"time"
)

const (
	sharedKey     = "global"
	minRetryDelay = 5 * time.Millisecond
)

// WindowChecker admits or rejects one request against a shared sliding window
type WindowChecker interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// RedisConfig configures a limiter shared through redis
type RedisConfig struct {
	// Limit is the number of requests admitted per Window across all processes
	Limit  int
	Window time.Duration
	// Prefix namespaces the window keys
	Prefix string
}

// Validate checks the configuration
func (c RedisConfig) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("Limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("Window must be positive, got %v", c.Window)
	}
	return nil
}

type redisLimiter struct {
	checker WindowChecker
	config  RedisConfig
}

// NewRedisLimiter creates a limiter whose budget is shared by every process
// using the same redis and prefix
func NewRedisLimiter(checker WindowChecker, config RedisConfig) (Limiter, error) {
	if checker == nil {
		return nil, fmt.Errorf("window checker is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Prefix == "" {
		config.Prefix = "sirix:rate:"
	}

	return &redisLimiter{checker: checker, config: config}, nil
}

func (rl *redisLimiter) Wait(ctx context.Context) error {
	return rl.WaitForKey(ctx, sharedKey)
}

func (rl *redisLimiter) WaitForKey(ctx context.Context, key string) error {
	for {
		allowed, retryAfter, err := rl.checker.CheckRateLimit(ctx, rl.config.Prefix+key, rl.config.Limit, rl.config.Window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if retryAfter < minRetryDelay {
			retryAfter = minRetryDelay
		}
		if retryAfter > rl.config.Window {
			retryAfter = rl.config.Window
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
