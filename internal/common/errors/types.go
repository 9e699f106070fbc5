package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeTransport represents connection, timeout and malformed-response failures
	ErrTypeTransport ErrorType = "transport"
	// ErrTypeProtocol represents requests that could not be constructed
	ErrTypeProtocol ErrorType = "protocol"
	// ErrTypeDecode represents response bodies that could not be parsed
	ErrTypeDecode ErrorType = "decode"
	// ErrTypeGatewayClosed represents submissions after the gateway shut down
	ErrTypeGatewayClosed ErrorType = "gateway_closed"
	// ErrTypeAuth represents failed authenticate or refresh calls
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeStatus represents non-2xx responses surfaced by CheckStatus
	ErrTypeStatus ErrorType = "status"
	// ErrTypeValidation represents invalid caller input
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// TransportFailure creates a connection/timeout/malformed-response error
func TransportFailure(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTransport,
		Message: msg,
		Cause:   cause,
	}
}

// ProtocolFailure creates an error for a request that could not be built
func ProtocolFailure(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeProtocol,
		Message: msg,
		Cause:   cause,
	}
}

// DecodeFailure creates an error for an unparseable response body
func DecodeFailure(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeDecode,
		Message: msg,
		Cause:   cause,
	}
}

// GatewayClosed creates the error returned for submissions after shutdown
func GatewayClosed() *AppError {
	return &AppError{
		Type:    ErrTypeGatewayClosed,
		Message: "gateway is closed",
	}
}

// AuthFailure creates an error for a failed authenticate or refresh call
func AuthFailure(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
		Cause:   cause,
	}
}

// StatusError creates an error describing a non-2xx response
func StatusError(statusCode int, body string) *AppError {
	return (&AppError{
		Type:    ErrTypeStatus,
		Message: fmt.Sprintf("HTTP %d: %s", statusCode, body),
	}).WithContext("status", statusCode)
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error, or any error it wraps, is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
