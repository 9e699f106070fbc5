// Package gateway serializes outbound HTTP requests through a single worker
// that owns the transport. Callers submit envelopes and receive a Pending
// handle that resolves exactly once with the outcome.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"sirix-go/internal/circuitbreaker"
	"sirix-go/internal/common/errors"
	commonhttp "sirix-go/internal/common/http"
	"sirix-go/internal/common/logging"
	"sirix-go/internal/common/ratelimit"
)

type request struct {
	envelope *Envelope
	pending  *Pending
	enqueued time.Time
}

// Stats are cumulative gateway counters
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`

	// Breakers has one entry per authority seen, empty when breakers are disabled
	Breakers []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// Gateway is the single owner of the HTTP executor
type Gateway struct {
	executor commonhttp.Executor
	logger   logging.Logger

	capacity          int
	serial            bool
	maxResponseBytes  int64
	breakerConfig     *circuitbreaker.Config
	breakers          *circuitbreaker.Registry
	limiter           ratelimit.Limiter
	limitPerAuthority bool

	intake   chan *request
	quit     chan struct{}
	quitOnce sync.Once
	mu       sync.RWMutex
	closed   bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup
	workerDone chan struct{}

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a gateway and starts its worker. The worker runs until Close
// (or Shutdown) and the intake is drained.
func New(executor commonhttp.Executor, opts ...Option) *Gateway {
	g := &Gateway{
		executor: executor,
		logger:   logging.GetGlobalLogger(),
		capacity: DefaultIntakeCapacity,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.executor == nil {
		g.executor = commonhttp.NewDefaultHTTPClient()
	}
	if g.breakerConfig != nil {
		g.breakers = circuitbreaker.NewRegistry(*g.breakerConfig, g.logger)
	}

	g.intake = make(chan *request, g.capacity)
	g.quit = make(chan struct{})
	g.baseCtx, g.cancelBase = context.WithCancel(context.Background())
	g.workerDone = make(chan struct{})

	go g.run()

	return g
}

// Submit enqueues a copy of env. It returns a GatewayClosed error once Close
// has been called, and only blocks while the intake buffer is full.
func (g *Gateway) Submit(ctx context.Context, env *Envelope) (*Pending, error) {
	if env == nil {
		return nil, errors.ProtocolFailure("envelope is required", nil)
	}

	req := &request{envelope: env.clone()}
	req.pending = newPending(req.envelope.ID)

	// Close releases blocked submitters through quit before it takes the
	// write lock, so the intake is never closed under a pending send.
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, errors.GatewayClosed()
	}

	req.enqueued = time.Now()
	select {
	case <-g.quit:
		return nil, errors.GatewayClosed()
	case g.intake <- req:
		g.submitted.Add(1)
		return req.pending, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do submits env and awaits its outcome
func (g *Gateway) Do(ctx context.Context, env *Envelope) (*Outcome, error) {
	pending, err := g.Submit(ctx, env)
	if err != nil {
		return nil, err
	}
	return pending.Await(ctx)
}

// Close stops accepting submissions. Already queued requests are still
// executed; submitters waiting on a full intake get GatewayClosed. Close is
// idempotent.
func (g *Gateway) Close() {
	g.quitOnce.Do(func() { close(g.quit) })

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	close(g.intake)
}

// Wait blocks until the worker has drained the intake and every in-flight
// request has been resolved.
func (g *Gateway) Wait() {
	<-g.workerDone
}

// Shutdown closes the gateway and waits for it to drain. If ctx ends first,
// in-flight requests are cancelled and resolve with transport failures.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.Close()

	select {
	case <-g.workerDone:
		g.cancelBase()
		return nil
	case <-ctx.Done():
		g.logger.Warn("Gateway shutdown deadline reached, cancelling in-flight requests")
		g.cancelBase()
		<-g.workerDone
		return ctx.Err()
	}
}

// Stats returns a snapshot of the gateway counters
func (g *Gateway) Stats() Stats {
	stats := Stats{
		Submitted: g.submitted.Load(),
		Completed: g.completed.Load(),
		Failed:    g.failed.Load(),
		Queued:    len(g.intake),
	}
	if g.breakers != nil {
		stats.Breakers = g.breakers.AllStats()
	}
	return stats
}

func (g *Gateway) run() {
	defer close(g.workerDone)

	// per-authority waits move off the worker so one exhausted host does not
	// hold back dispatch to the others
	throttleInline := g.serial || !g.limitPerAuthority

	for req := range g.intake {
		if throttleInline && !g.admit(req) {
			continue
		}

		if g.serial {
			g.execute(req)
			continue
		}

		g.inflight.Add(1)
		go func(req *request) {
			defer g.inflight.Done()
			if !throttleInline && !g.admit(req) {
				return
			}
			g.execute(req)
		}(req)
	}

	g.inflight.Wait()
}

// admit waits on the rate limiter and resolves req with a transport failure
// when the wait is aborted.
func (g *Gateway) admit(req *request) bool {
	if err := g.throttle(req.envelope); err != nil {
		g.finish(req, nil, errors.TransportFailure("rate limiter wait aborted", err))
		return false
	}
	return true
}

func (g *Gateway) throttle(env *Envelope) error {
	if g.limiter == nil {
		return nil
	}
	if g.limitPerAuthority {
		return g.limiter.WaitForKey(g.baseCtx, env.Authority())
	}
	return g.limiter.Wait(g.baseCtx)
}

func (g *Gateway) execute(req *request) {
	env := req.envelope

	defer func() {
		if r := recover(); r != nil {
			g.finish(req, nil, errors.TransportFailure("executor panicked", fmt.Errorf("%v", r)))
		}
	}()

	if err := env.validate(); err != nil {
		g.finish(req, nil, err)
		return
	}

	ctx := logging.ContextWithRequestID(g.baseCtx, env.ID)

	var body io.Reader
	if len(env.Body) > 0 {
		body = bytes.NewReader(env.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, env.Method, env.URL.String(), body)
	if err != nil {
		g.finish(req, nil, errors.ProtocolFailure("failed to create request", err))
		return
	}
	if env.Header != nil {
		httpReq.Header = env.Header
	}

	g.logger.WithContext(ctx).Debug("Dispatching request",
		logging.String("method", env.Method),
		logging.String("url", env.URL.Redacted()),
		logging.Duration("queued", time.Since(req.enqueued)),
	)

	start := time.Now()
	var outcome *Outcome
	call := func() error {
		resp, err := g.executor.Do(httpReq)
		if err != nil {
			return errors.TransportFailure("request failed", err)
		}

		respBody, err := commonhttp.ReadBody(resp, g.maxResponseBytes)
		if err != nil {
			return errors.TransportFailure("failed to read response body", err)
		}

		outcome = &Outcome{
			RequestID:  env.ID,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
			Duration:   time.Since(start),
		}
		return nil
	}

	if g.breakers != nil {
		err = g.breakers.For(env.Authority()).Execute(call)
	} else {
		err = call()
	}

	g.finish(req, outcome, err)
}

func (g *Gateway) finish(req *request, outcome *Outcome, err error) {
	env := req.envelope
	logger := g.logger.WithFields(
		logging.String("request_id", env.ID),
		logging.String("method", env.Method),
	)

	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok {
			appErr.WithContext("request_id", env.ID)
		}
		if !req.pending.resolve(nil, err) {
			return
		}
		g.failed.Add(1)
		logger.Warn("Request failed", logging.Err(err))
		return
	}

	if !req.pending.resolve(outcome, nil) {
		return
	}
	g.completed.Add(1)
	logger.Debug("Request completed",
		logging.Int("status", outcome.StatusCode),
		logging.Duration("duration", outcome.Duration),
	)
}
