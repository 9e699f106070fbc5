// Package ratelimit throttles outbound requests, in process with
// golang.org/x/time/rate or across processes with a redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound dispatch
type Limiter interface {
	// Wait blocks until the shared budget allows one request
	Wait(ctx context.Context) error
	// WaitForKey blocks until the budget for key allows one request
	WaitForKey(ctx context.Context, key string) error
}

// Config holds rate limiter configuration
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	MaxKeys           int
	CleanupPeriod     time.Duration
}

// DefaultConfig returns a disabled limiter configuration with sane budgets
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 50,
		BurstSize:         10,
		MaxKeys:           1000,
		CleanupPeriod:     5 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("RequestsPerSecond must be positive, got %v", c.RequestsPerSecond)
	}
	if c.BurstSize <= 0 {
		return fmt.Errorf("BurstSize must be positive, got %d", c.BurstSize)
	}
	if c.MaxKeys <= 0 {
		return fmt.Errorf("MaxKeys must be positive, got %d", c.MaxKeys)
	}
	if c.CleanupPeriod <= 0 {
		return fmt.Errorf("CleanupPeriod must be positive, got %v", c.CleanupPeriod)
	}
	return nil
}

type localLimiter struct {
	mu            sync.Mutex
	config        Config
	globalLimiter *rate.Limiter
	limiters      map[string]*limiterEntry
	lastCleanup   time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(config Config) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &localLimiter{
		config:        config,
		globalLimiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize),
		limiters:      make(map[string]*limiterEntry),
		lastCleanup:   time.Now(),
	}, nil
}

func (rl *localLimiter) Wait(ctx context.Context) error {
	if !rl.config.Enabled {
		return nil
	}
	return rl.globalLimiter.Wait(ctx)
}

func (rl *localLimiter) WaitForKey(ctx context.Context, key string) error {
	if !rl.config.Enabled {
		return nil
	}
	return rl.limiterForKey(key).Wait(ctx)
}

func (rl *localLimiter) limiterForKey(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > rl.config.CleanupPeriod {
		rl.cleanup(now)
	}

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[key] = entry
		if len(rl.limiters) > rl.config.MaxKeys {
			rl.cleanup(now)
		}
	}
	entry.lastUsed = now

	return entry.limiter
}

func (rl *localLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rl.config.CleanupPeriod)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.lastCleanup = now
}
