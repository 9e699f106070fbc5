package gateway

import (
	"sirix-go/internal/circuitbreaker"
	"sirix-go/internal/common/logging"
	"sirix-go/internal/common/ratelimit"
)

// DefaultIntakeCapacity is the intake buffer size when none is configured
const DefaultIntakeCapacity = 256

// Option configures a Gateway
type Option func(*Gateway)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithIntakeCapacity sets the intake buffer size. Submit suspends only while
// the buffer is full. Zero makes every Submit rendezvous with the worker.
func WithIntakeCapacity(capacity int) Option {
	return func(g *Gateway) {
		if capacity >= 0 {
			g.capacity = capacity
		}
	}
}

// WithCircuitBreaker guards each remote authority with its own breaker
func WithCircuitBreaker(config circuitbreaker.Config) Option {
	return func(g *Gateway) {
		g.breakerConfig = &config
	}
}

// WithRateLimiter makes the worker wait on a shared budget before each dispatch
func WithRateLimiter(limiter ratelimit.Limiter) Option {
	return func(g *Gateway) {
		g.limiter = limiter
		g.limitPerAuthority = false
	}
}

// WithAuthorityRateLimiter throttles each authority on its own budget. With
// concurrent dispatch the wait happens in the request's goroutine, so other
// authorities keep flowing; with serial dispatch it blocks the worker.
func WithAuthorityRateLimiter(limiter ratelimit.Limiter) Option {
	return func(g *Gateway) {
		g.limiter = limiter
		g.limitPerAuthority = true
	}
}

// WithSerialDispatch executes requests one at a time on the worker goroutine
// instead of fanning them out.
func WithSerialDispatch() Option {
	return func(g *Gateway) {
		g.serial = true
	}
}

// WithMaxResponseBytes bounds buffered response bodies
func WithMaxResponseBytes(limit int64) Option {
	return func(g *Gateway) {
		g.maxResponseBytes = limit
	}
}
