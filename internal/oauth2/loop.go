package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"sirix-go/internal/common/errors"
	"sirix-go/internal/common/logging"
	"sirix-go/internal/gateway"
)

const (
	// DefaultMargin is how long before expiry a refresh is attempted
	DefaultMargin = 10 * time.Second
	// DefaultLifetimeUnit is the unit of expires_in
	DefaultLifetimeUnit = time.Second
	// DefaultMinInterval is the shortest wait between two refresh attempts
	DefaultMinInterval = time.Second

	storageTimeout = 5 * time.Second
)

// State is the refresh loop's authentication state
type State int32

const (
	// StateUnauthenticated means no credential has been obtained yet
	StateUnauthenticated State = iota
	// StateAuthenticated means a credential has been published
	StateAuthenticated
	// StateTerminated means the loop has exited
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Submitter is the part of the request gateway the loop uses
type Submitter interface {
	Submit(ctx context.Context, env *gateway.Envelope) (*gateway.Pending, error)
}

// LoopConfig configures a RefreshLoop
type LoopConfig struct {
	// TokenURL is the token endpoint, normally "<base>/token"
	TokenURL string
	Username string
	Password string
	// Margin is subtracted from the credential lifetime to schedule refreshes
	Margin time.Duration
	// LifetimeUnit scales expires_in; one second outside of tests
	LifetimeUnit time.Duration
	// MinInterval is the lower bound of the refresh delay
	MinInterval time.Duration
}

func (c *LoopConfig) applyDefaults() {
	if c.Margin <= 0 {
		c.Margin = DefaultMargin
	}
	if c.LifetimeUnit <= 0 {
		c.LifetimeUnit = DefaultLifetimeUnit
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
}

// LoopOption configures a RefreshLoop
type LoopOption func(*RefreshLoop)

// WithLoopLogger sets the logger
func WithLoopLogger(logger logging.Logger) LoopOption {
	return func(l *RefreshLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTokenStorage seeds the loop from storage and saves every published
// credential under key. An empty key derives one from the username and token URL.
func WithTokenStorage(storage TokenStorage, key string) LoopOption {
	return func(l *RefreshLoop) {
		l.storage = storage
		l.storageKey = key
	}
}

// RefreshLoop obtains a credential and keeps it fresh until stopped
type RefreshLoop struct {
	gateway    Submitter
	cell       *TokenCell
	config     LoopConfig
	logger     logging.Logger
	storage    TokenStorage
	storageKey string

	state atomic.Int32

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefreshLoop validates config and returns a loop that has not been started
func NewRefreshLoop(gw Submitter, cell *TokenCell, config LoopConfig, opts ...LoopOption) (*RefreshLoop, error) {
	if gw == nil {
		return nil, errors.ValidationError("refresh loop requires a gateway")
	}
	if cell == nil {
		return nil, errors.ValidationError("refresh loop requires a token cell")
	}

	u, err := url.Parse(config.TokenURL)
	if err != nil || u.Host == "" {
		return nil, errors.ValidationError("refresh loop requires an absolute token URL").
			WithContext("token_url", config.TokenURL)
	}
	if config.Username == "" {
		return nil, errors.ValidationError("refresh loop requires a username")
	}

	config.applyDefaults()

	l := &RefreshLoop{
		gateway: gw,
		cell:    cell,
		config:  config,
		logger:  logging.GetGlobalLogger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.storage != nil && l.storageKey == "" {
		l.storageKey = fmt.Sprintf("%s@%s", config.Username, u.Host)
	}
	l.logger = l.logger.WithFields(logging.String("component", "refresh_loop"))

	return l, nil
}

// Start launches the worker. It fails if the loop was already started or stopped.
func (l *RefreshLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return errors.ValidationError("refresh loop has been stopped and cannot be restarted")
	}
	if l.started {
		return errors.ValidationError("refresh loop already started")
	}
	l.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go l.run(loopCtx)
	return nil
}

// Stop raises the cancellation signal. It is idempotent and irrevocable; use
// Done to wait for the worker to exit.
func (l *RefreshLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	l.stopped = true

	if l.cancel != nil {
		l.cancel()
		return
	}

	// never started
	l.state.Store(int32(StateTerminated))
	close(l.done)
}

// Done is closed once the worker has exited
func (l *RefreshLoop) Done() <-chan struct{} {
	return l.done
}

// State returns the current authentication state
func (l *RefreshLoop) State() State {
	return State(l.state.Load())
}

func (l *RefreshLoop) run(ctx context.Context) {
	defer close(l.done)
	defer l.state.Store(int32(StateTerminated))

	credential, seeded := l.loadStored()
	var delay time.Duration

	if seeded {
		l.publish(credential, false)
		delay = l.refreshDelay(time.Until(credential.ExpiresAt))
		l.logger.Info("Authenticated from stored credential", logging.Duration("delay", delay))
	} else {
		var err error
		credential, err = l.authenticate()
		if err != nil {
			l.logger.Error("Authentication with credentials failed", err,
				logging.String("state", StateUnauthenticated.String()))
			<-ctx.Done()
			return
		}
		l.publish(credential, true)
		delay = l.refreshDelay(credential.Lifetime(l.config.LifetimeUnit))
		l.logger.Info("Authentication with credentials successful", logging.Duration("delay", delay))
	}
	l.state.Store(int32(StateAuthenticated))

	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		next, err := l.refresh(credential)
		if err != nil {
			delay = l.refreshDelay(credential.Lifetime(l.config.LifetimeUnit))
			l.logger.Warn("Credential refresh failed, keeping previous credential",
				logging.Err(err),
				logging.Duration("delay", delay),
			)
			continue
		}

		credential = next
		l.publish(credential, true)
		delay = l.refreshDelay(credential.Lifetime(l.config.LifetimeUnit))
		l.logger.Info("Credential refreshed", logging.Duration("delay", delay))
	}
}

// refreshDelay is lifetime minus margin, never shorter than MinInterval
func (l *RefreshLoop) refreshDelay(lifetime time.Duration) time.Duration {
	delay := lifetime - l.config.Margin
	if delay < l.config.MinInterval {
		return l.config.MinInterval
	}
	return delay
}

func (l *RefreshLoop) authenticate() (Credential, error) {
	return l.exchange("authenticate", map[string]string{
		"username":   l.config.Username,
		"password":   l.config.Password,
		"grant_type": "password",
	})
}

func (l *RefreshLoop) refresh(current Credential) (Credential, error) {
	if current.RefreshToken == "" {
		return Credential{}, errors.AuthFailure("credential has no refresh token", nil)
	}
	return l.exchange("refresh", map[string]string{
		"refresh_token": current.RefreshToken,
	})
}

// exchange posts payload to the token endpoint through the gateway. The call
// is awaited without a deadline so cancellation never interrupts it.
func (l *RefreshLoop) exchange(operation string, payload map[string]string) (Credential, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Credential{}, errors.ProtocolFailure("failed to encode token request", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	env, err := gateway.NewEnvelope(http.MethodPost, l.config.TokenURL, header, body)
	if err != nil {
		return Credential{}, err
	}

	pending, err := l.gateway.Submit(context.Background(), env)
	if err != nil {
		return Credential{}, errors.AuthFailure(operation+" request not submitted", err)
	}

	outcome, err := pending.Await(context.Background())
	if err != nil {
		return Credential{}, errors.AuthFailure(operation+" request failed", err)
	}

	if outcome.StatusCode < 200 || outcome.StatusCode > 299 {
		return Credential{}, errors.AuthFailure(fmt.Sprintf("token endpoint rejected %s", operation), nil).
			WithContext("status", outcome.StatusCode)
	}

	var credential Credential
	if err := json.Unmarshal(outcome.Body, &credential); err != nil {
		return Credential{}, errors.DecodeFailure("invalid token response", err)
	}
	if credential.AccessToken == "" {
		return Credential{}, errors.DecodeFailure("token response has no access_token", nil)
	}

	credential.stamp(time.Now(), l.config.LifetimeUnit)
	return credential, nil
}

func (l *RefreshLoop) publish(credential Credential, persist bool) {
	version := l.cell.Publish(credential)
	l.logger.Debug("Credential published",
		logging.Int64("version", int64(version)),
		logging.Time("expires_at", credential.ExpiresAt),
	)

	if !persist || l.storage == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := l.storage.Save(ctx, l.storageKey, credential); err != nil {
		l.logger.Warn("Failed to persist credential", logging.Err(err))
	}
}

func (l *RefreshLoop) loadStored() (Credential, bool) {
	if l.storage == nil {
		return Credential{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	stored, err := l.storage.Load(ctx, l.storageKey)
	if err != nil {
		l.logger.Warn("Failed to load stored credential", logging.Err(err))
		return Credential{}, false
	}
	if stored == nil || !stored.ValidFor(l.config.Margin) {
		return Credential{}, false
	}
	return *stored, true
}
