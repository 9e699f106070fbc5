package sirix

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"sirix-go/internal/circuitbreaker"
	"sirix-go/internal/common/errors"
	commonhttp "sirix-go/internal/common/http"
	"sirix-go/internal/common/logging"
	"sirix-go/internal/common/ratelimit"
	"sirix-go/internal/gateway"
	"sirix-go/internal/oauth2"
)

// Credential is a token response as published to requests
type Credential = oauth2.Credential

// TokenStorage persists credentials across client restarts
type TokenStorage = oauth2.TokenStorage

// AuthState is the authentication state of a client
type AuthState = oauth2.State

const (
	StateUnauthenticated = oauth2.StateUnauthenticated
	StateAuthenticated   = oauth2.StateAuthenticated
	StateTerminated      = oauth2.StateTerminated
)

// Stats are cumulative request counters
type Stats = gateway.Stats

// CircuitBreakerStats describes the breaker guarding one host
type CircuitBreakerStats = circuitbreaker.Stats

// NewMemoryTokenStorage returns a TokenStorage that lives as long as the process
func NewMemoryTokenStorage() TokenStorage {
	return oauth2.NewMemoryTokenStorage()
}

// Request describes one call relative to the client's base URL
type Request struct {
	Method string
	// Path is joined to the base URL path
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewJSONRequest encodes v as the body of a request with a JSON content type
func NewJSONRequest(method, path string, v interface{}) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, errors.ProtocolFailure("failed to encode request body", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	return Request{Method: method, Path: path, Header: header, Body: body}, nil
}

// Client executes authorized requests against one SirixDB server
type Client struct {
	baseURL *url.URL
	gateway *gateway.Gateway
	cell    *oauth2.TokenCell
	loop    *oauth2.RefreshLoop
	logger  logging.Logger
	closers []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// New creates a client for baseURL. With credentials the refresh loop starts
// immediately; use WaitForToken to wait for the first token.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	base, err := parseBaseURL(baseURL)
	if err != nil {
		closeAll(o.closers, o.logger)
		return nil, err
	}

	gatewayOpts := []gateway.Option{gateway.WithLogger(o.logger)}
	if o.intakeCapacity >= 0 {
		gatewayOpts = append(gatewayOpts, gateway.WithIntakeCapacity(o.intakeCapacity))
	}
	if o.serial {
		gatewayOpts = append(gatewayOpts, gateway.WithSerialDispatch())
	}
	if o.maxBodyBytes > 0 {
		gatewayOpts = append(gatewayOpts, gateway.WithMaxResponseBytes(o.maxBodyBytes))
	}
	if o.breaker != nil {
		gatewayOpts = append(gatewayOpts, gateway.WithCircuitBreaker(*o.breaker))
	}
	if o.sharedLimiter != nil {
		gatewayOpts = append(gatewayOpts, gateway.WithAuthorityRateLimiter(o.sharedLimiter))
	} else if o.rateLimitRPS > 0 {
		config := ratelimit.DefaultConfig()
		config.Enabled = true
		config.RequestsPerSecond = o.rateLimitRPS
		if o.rateLimitBurst > 0 {
			config.BurstSize = o.rateLimitBurst
		}
		limiter, err := ratelimit.NewLocalLimiter(config)
		if err != nil {
			closeAll(o.closers, o.logger)
			return nil, errors.ConfigError("invalid rate limit").WithContext("error", err.Error())
		}
		gatewayOpts = append(gatewayOpts, gateway.WithRateLimiter(limiter))
	}

	c := &Client{
		baseURL: base,
		gateway: gateway.New(o.executor(), gatewayOpts...),
		cell:    oauth2.NewTokenCell(),
		logger:  o.logger.WithFields(logging.String("component", "sirix_client")),
		closers: o.closers,
	}

	if o.hasCredentials {
		loopOpts := []oauth2.LoopOption{oauth2.WithLoopLogger(o.logger)}
		if o.storage != nil {
			loopOpts = append(loopOpts, oauth2.WithTokenStorage(o.storage, o.storageKey))
		}

		loop, err := oauth2.NewRefreshLoop(c.gateway, c.cell, oauth2.LoopConfig{
			TokenURL:     base.JoinPath("token").String(),
			Username:     o.username,
			Password:     o.password,
			Margin:       o.refreshMargin,
			LifetimeUnit: o.lifetimeUnit,
			MinInterval:  o.minInterval,
		}, loopOpts...)
		if err != nil {
			c.gateway.Close()
			closeAll(c.closers, c.logger)
			return nil, err
		}
		c.loop = loop

		if err := loop.Start(context.Background()); err != nil {
			c.gateway.Close()
			closeAll(c.closers, c.logger)
			return nil, err
		}
	}

	c.logger.Info("SirixDB client created",
		logging.String("url", base.String()),
		logging.Bool("credentials", o.hasCredentials),
	)

	return c, nil
}

func (o *options) executor() commonhttp.Executor {
	if o.httpClient != nil {
		return o.httpClient
	}

	clientOpts := []commonhttp.ClientOption{commonhttp.WithTimeout(o.timeout)}
	if o.userAgent != "" {
		clientOpts = append(clientOpts, commonhttp.WithUserAgent(o.userAgent))
	}
	if o.transport != nil {
		clientOpts = append(clientOpts, commonhttp.WithTransport(o.transport))
	}
	if o.insecure {
		clientOpts = append(clientOpts, commonhttp.WithInsecureSkipVerify())
	}
	if o.keepAlivesOff {
		clientOpts = append(clientOpts, commonhttp.WithoutKeepAlives())
	}
	if o.pool != nil {
		if o.pool.maxIdle > 0 {
			clientOpts = append(clientOpts, commonhttp.WithMaxIdleConns(o.pool.maxIdle))
		}
		if o.pool.maxIdlePerHost > 0 {
			clientOpts = append(clientOpts, commonhttp.WithMaxIdleConnsPerHost(o.pool.maxIdlePerHost))
		}
		if o.pool.idleTimeout > 0 {
			clientOpts = append(clientOpts, commonhttp.WithIdleConnTimeout(o.pool.idleTimeout))
		}
	}
	if o.checkRedirect != nil {
		clientOpts = append(clientOpts, commonhttp.WithCheckRedirect(o.checkRedirect))
	}
	return commonhttp.NewHTTPClient(clientOpts...)
}

func parseBaseURL(raw string) (*url.URL, error) {
	base, err := url.Parse(raw)
	if err != nil {
		return nil, errors.ValidationError("invalid base URL").WithContext("url", raw)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.ValidationError("base URL scheme must be http or https").WithContext("url", raw)
	}
	if base.Host == "" {
		return nil, errors.ValidationError("base URL must include a host").WithContext("url", raw)
	}
	if base.Path == "" {
		base.Path = "/"
	}
	base.RawQuery = ""
	base.Fragment = ""
	return base, nil
}

// BaseURL returns the URL requests are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Do sends req with the latest published token and waits for the response.
// Any HTTP status is returned as a Response; errors are transport, request
// construction, shutdown or ctx failures.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Authorization") == "" {
		if authorization, ok := c.cell.AuthorizationHeader(); ok {
			header.Set("Authorization", authorization)
		}
	}

	env, err := gateway.NewEnvelope(req.Method, target.String(), header, req.Body)
	if err != nil {
		return nil, err
	}

	outcome, err := c.gateway.Do(ctx, env)
	if err != nil {
		return nil, err
	}

	return newResponse(outcome), nil
}

// Get is a convenience for a GET request
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Token returns the latest published credential
func (c *Client) Token() (Credential, bool) {
	return c.cell.Read()
}

// WaitForToken blocks until the first credential is published or ctx ends
func (c *Client) WaitForToken(ctx context.Context) (Credential, error) {
	if c.loop == nil {
		return Credential{}, errors.ConfigError("client has no credentials")
	}
	return c.cell.Wait(ctx)
}

// AuthState reports the refresh loop state. Clients without credentials are
// always unauthenticated.
func (c *Client) AuthState() AuthState {
	if c.loop == nil {
		return StateUnauthenticated
	}
	return c.loop.State()
}

// Stats returns request counters
func (c *Client) Stats() Stats {
	return c.gateway.Stats()
}

// Close stops the refresh loop, drains queued requests and releases
// resources. If ctx ends first in-flight requests are cancelled. Close is
// idempotent and returns the result of the first call.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.shutdown(ctx)
	})
	return c.closeErr
}

func (c *Client) shutdown(ctx context.Context) error {
	var result error

	if c.loop != nil {
		c.loop.Stop()
		select {
		case <-c.loop.Done():
		case <-ctx.Done():
			result = ctx.Err()
		}
	}

	if err := c.gateway.Shutdown(ctx); err != nil && result == nil {
		result = err
	}

	// a refresh still in flight resolves once the gateway has shut down
	if c.loop != nil {
		<-c.loop.Done()
	}

	closeAll(c.closers, c.logger)

	stats := c.gateway.Stats()
	c.logger.Info("SirixDB client closed",
		logging.Int64("submitted", stats.Submitted),
		logging.Int64("failed", stats.Failed),
	)

	return result
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func closeAll(closers []io.Closer, logger logging.Logger) {
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close resource", logging.Err(err))
		}
	}
}
