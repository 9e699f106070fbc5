package oauth2

import (
	"context"
	"sync"
	"sync/atomic"
)

type slot struct {
	credential Credential
	version    uint64
	changed    chan struct{}
}

// TokenCell holds the latest published credential. Reads are lock-free and
// never observe a partially written credential; publishes are serialized and
// versions increase monotonically.
type TokenCell struct {
	mu      sync.Mutex
	current atomic.Pointer[slot]
}

// NewTokenCell returns an empty cell
func NewTokenCell() *TokenCell {
	cell := &TokenCell{}
	cell.current.Store(&slot{changed: make(chan struct{})})
	return cell
}

// Read returns a copy of the latest credential. ok is false until the first publish.
func (c *TokenCell) Read() (Credential, bool) {
	s := c.current.Load()
	if s.version == 0 {
		return Credential{}, false
	}
	return s.credential.Clone(), true
}

// Publish replaces the credential and returns its version
func (c *TokenCell) Publish(credential Credential) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	next := &slot{
		credential: credential.Clone(),
		version:    prev.version + 1,
		changed:    make(chan struct{}),
	}
	c.current.Store(next)
	close(prev.changed)

	return next.version
}

// Version returns the number of publishes so far
func (c *TokenCell) Version() uint64 {
	return c.current.Load().version
}

// Changed returns a channel that is closed by the next Publish
func (c *TokenCell) Changed() <-chan struct{} {
	return c.current.Load().changed
}

// Wait blocks until a credential has been published or ctx ends
func (c *TokenCell) Wait(ctx context.Context) (Credential, error) {
	for {
		s := c.current.Load()
		if s.version > 0 {
			return s.credential.Clone(), nil
		}

		select {
		case <-s.changed:
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
}

// AuthorizationHeader returns the Authorization header value for the latest credential
func (c *TokenCell) AuthorizationHeader() (string, bool) {
	s := c.current.Load()
	if s.version == 0 || s.credential.AccessToken == "" {
		return "", false
	}
	return s.credential.AuthorizationHeader(), true
}
