package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"sirix-go/internal/common/errors"
)

// Envelope is a fully specified outbound request. It is copied on submission,
// so callers may reuse or mutate it afterwards.
type Envelope struct {
	ID     string
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewEnvelope parses target and validates the request line. Only absolute
// http and https URLs are accepted.
func NewEnvelope(method, target string, header http.Header, body []byte) (*Envelope, error) {
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.ProtocolFailure("invalid request URL", err).WithContext("url", target)
	}

	env := &Envelope{
		ID:     uuid.NewString(),
		Method: method,
		URL:    u,
		Header: header.Clone(),
		Body:   body,
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Authority returns host[:port] of the target, the unit breakers and
// per-authority limits are keyed by.
func (e *Envelope) Authority() string {
	if e.URL == nil {
		return ""
	}
	return e.URL.Host
}

func (e *Envelope) validate() error {
	if e.URL == nil {
		return errors.ProtocolFailure("request URL is required", nil)
	}

	scheme := strings.ToLower(e.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return errors.ProtocolFailure("unsupported URL scheme", nil).WithContext("scheme", e.URL.Scheme)
	}
	if e.URL.Host == "" {
		return errors.ProtocolFailure("request URL has no host", nil).WithContext("url", e.URL.String())
	}

	if _, err := http.NewRequest(e.Method, e.URL.String(), nil); err != nil {
		return errors.ProtocolFailure("invalid request", err).WithContext("method", e.Method)
	}
	return nil
}

func (e *Envelope) clone() *Envelope {
	c := &Envelope{
		ID:     e.ID,
		Method: e.Method,
		Header: e.Header.Clone(),
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if e.URL != nil {
		u := *e.URL
		if e.URL.User != nil {
			user := *e.URL.User
			u.User = &user
		}
		c.URL = &u
	}
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return c
}

// Outcome is a completed HTTP exchange. Any status code, including 4xx and
// 5xx, is a successful outcome at this level.
type Outcome struct {
	RequestID  string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}
