package gateway

import (
	"context"
	"sync"
)

// Pending is the consumer side of a one-shot completion. The gateway writes
// exactly one result into it; Await may be called any number of times and
// always returns that result.
type Pending struct {
	id      string
	once    sync.Once
	done    chan struct{}
	outcome *Outcome
	err     error
}

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

// ID returns the request ID of the envelope this handle belongs to
func (p *Pending) ID() string {
	return p.id
}

// Done is closed once the result is available
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the result is written or ctx ends. Abandoning a
// Pending never blocks the gateway.
func (p *Pending) Await(ctx context.Context) (*Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, p.err
	default:
	}

	select {
	case <-p.done:
		return p.outcome, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve writes the result. It reports false when the handle was already resolved.
func (p *Pending) resolve(outcome *Outcome, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.outcome = outcome
		p.err = err
		resolved = true
		close(p.done)
	})
	return resolved
}
