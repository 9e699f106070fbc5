package sirix

import "sirix-go/internal/common/errors"

// Error is the structured error returned by the client
type Error = errors.AppError

// ErrorType classifies an Error
type ErrorType = errors.ErrorType

const (
	ErrTransport     = errors.ErrTypeTransport
	ErrProtocol      = errors.ErrTypeProtocol
	ErrDecode        = errors.ErrTypeDecode
	ErrGatewayClosed = errors.ErrTypeGatewayClosed
	ErrAuth          = errors.ErrTypeAuth
	ErrStatus        = errors.ErrTypeStatus
	ErrValidation    = errors.ErrTypeValidation
	ErrConfig        = errors.ErrTypeConfig
)

// IsErrorType reports whether err, or an error it wraps, is an Error of type t
func IsErrorType(err error, t ErrorType) bool {
	return errors.IsType(err, t)
}
