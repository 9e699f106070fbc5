package sirix

import (
	"encoding/json"
	"net/http"
	"time"

	"sirix-go/internal/common/errors"
	"sirix-go/internal/gateway"
)

const maxErrorBody = 512

// Response is a completed HTTP exchange, whatever its status
type Response struct {
	RequestID  string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

func newResponse(outcome *gateway.Outcome) *Response {
	return &Response{
		RequestID:  outcome.RequestID,
		StatusCode: outcome.StatusCode,
		Header:     outcome.Header,
		Body:       outcome.Body,
		Duration:   outcome.Duration,
	}
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// CheckStatus returns a status error for non-2xx responses
func (r *Response) CheckStatus() error {
	if r.IsSuccess() {
		return nil
	}

	body := string(r.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return errors.StatusError(r.StatusCode, body).WithContext("request_id", r.RequestID)
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.DecodeFailure("invalid JSON response", err).WithContext("status", r.StatusCode)
	}
	return nil
}
