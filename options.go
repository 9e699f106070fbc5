package sirix

import (
	"io"
	"net/http"
	"time"

	"sirix-go/internal/circuitbreaker"
	"sirix-go/internal/common/logging"
	"sirix-go/internal/common/ratelimit"
	"sirix-go/internal/oauth2"
)

// Option configures a Client
type Option func(*options)

// CircuitBreakerConfig tunes the per-host circuit breakers
type CircuitBreakerConfig = circuitbreaker.Config

// DefaultCircuitBreakerConfig trips after five consecutive transport failures
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return circuitbreaker.DefaultConfig()
}

type options struct {
	username       string
	password       string
	hasCredentials bool

	httpClient     *http.Client
	timeout        time.Duration
	userAgent      string
	transport      http.RoundTripper
	insecure       bool
	keepAlivesOff  bool
	pool           *connectionPool
	checkRedirect  func(req *http.Request, via []*http.Request) error
	maxBodyBytes   int64
	logger         logging.Logger
	intakeCapacity int
	serial         bool

	rateLimitRPS   float64
	rateLimitBurst int
	sharedLimiter  ratelimit.Limiter
	breaker        *circuitbreaker.Config

	refreshMargin time.Duration
	lifetimeUnit  time.Duration
	minInterval   time.Duration

	storage    oauth2.TokenStorage
	storageKey string

	closers []io.Closer
}

func defaultOptions() *options {
	return &options{
		timeout:        30 * time.Second,
		logger:         logging.GetGlobalLogger(),
		intakeCapacity: -1,
	}
}

// WithCredentials enables authentication with the password grant
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
		o.hasCredentials = true
	}
}

// WithHTTPClient replaces the transport. The client's own timeout applies.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTimeout sets the per-request timeout of the default transport
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent of the default transport
func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		o.userAgent = userAgent
	}
}

// WithTransport sets the round tripper of the default transport. TLS and
// connection pool options do not apply to it.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithInsecureSkipVerify accepts any server certificate, as needed for the
// self-signed certificate of a local SirixDB container.
func WithInsecureSkipVerify() Option {
	return func(o *options) {
		o.insecure = true
	}
}

type connectionPool struct {
	maxIdle        int
	maxIdlePerHost int
	idleTimeout    time.Duration
}

// WithConnectionPool tunes idle connection reuse of the default transport.
// Zero values keep the defaults.
func WithConnectionPool(maxIdle, maxIdlePerHost int, idleTimeout time.Duration) Option {
	return func(o *options) {
		o.pool = &connectionPool{maxIdle: maxIdle, maxIdlePerHost: maxIdlePerHost, idleTimeout: idleTimeout}
	}
}

// WithoutKeepAlives opens a new connection for every request
func WithoutKeepAlives() Option {
	return func(o *options) {
		o.keepAlivesOff = true
	}
}

// WithCheckRedirect sets the redirect policy of the default transport.
// Returning http.ErrUseLastResponse hands redirects back as responses.
func WithCheckRedirect(checkRedirect func(req *http.Request, via []*http.Request) error) Option {
	return func(o *options) {
		o.checkRedirect = checkRedirect
	}
}

// WithMaxResponseBytes bounds how much of a response body is buffered.
// Larger bodies fail the request with a transport error.
func WithMaxResponseBytes(limit int64) Option {
	return func(o *options) {
		o.maxBodyBytes = limit
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIntakeCapacity sets how many requests may queue before Do blocks
func WithIntakeCapacity(capacity int) Option {
	return func(o *options) {
		o.intakeCapacity = capacity
	}
}

// WithSerialDispatch executes requests one at a time in submission order
func WithSerialDispatch() Option {
	return func(o *options) {
		o.serial = true
	}
}

// WithRateLimit caps outbound requests per second. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rateLimitRPS = rps
		o.rateLimitBurst = burst
	}
}

// WithCircuitBreaker guards each remote host with a circuit breaker using default settings
func WithCircuitBreaker(enabled bool) Option {
	return func(o *options) {
		if !enabled {
			o.breaker = nil
			return
		}
		config := circuitbreaker.DefaultConfig()
		o.breaker = &config
	}
}

// WithCircuitBreakerConfig guards each remote host with a circuit breaker
func WithCircuitBreakerConfig(config CircuitBreakerConfig) Option {
	return func(o *options) {
		o.breaker = &config
	}
}

// WithRefreshMargin sets how long before expiry the token is refreshed
func WithRefreshMargin(margin time.Duration) Option {
	return func(o *options) {
		o.refreshMargin = margin
	}
}

// WithLifetimeUnit sets the unit of the token response's expires_in
func WithLifetimeUnit(unit time.Duration) Option {
	return func(o *options) {
		o.lifetimeUnit = unit
	}
}

// WithMinRefreshInterval sets the shortest wait between two refresh attempts
func WithMinRefreshInterval(interval time.Duration) Option {
	return func(o *options) {
		o.minInterval = interval
	}
}

// WithTokenStorage persists credentials under key so that restarted clients
// can skip authentication. An empty key is derived from the username and host.
func WithTokenStorage(storage TokenStorage, key string) Option {
	return func(o *options) {
		o.storage = storage
		o.storageKey = key
	}
}

// withSharedLimiter throttles per host with a budget shared by other processes
func withSharedLimiter(limiter ratelimit.Limiter) Option {
	return func(o *options) {
		o.sharedLimiter = limiter
	}
}

// withCloser registers a resource the client closes after shutdown
func withCloser(closer io.Closer) Option {
	return func(o *options) {
		o.closers = append(o.closers, closer)
	}
}
