// Package errors carries a stable error code from the failing layer up to
// the HTTP edge, where MetadataFor maps it to a status and public message.
package errors

import (
	stdErrors "errors"
	"net/http"
	"strings"
)

type Code string

// Generic codes.
const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Reservation domain codes.
const (
	CodeLotNotFound           Code = "LOT_NOT_FOUND"
	CodeReservationNotFound   Code = "RESERVATION_NOT_FOUND"
	CodeUserAlreadyActive     Code = "USER_ALREADY_ACTIVE"
	CodeNoSpotsAvailable      Code = "NO_SPOTS_AVAILABLE"
	CodeConcurrentConflict    Code = "CONCURRENT_CONFLICT"
	CodeInsufficientFreeSpots Code = "INSUFFICIENT_FREE_SPOTS"
)

// Metadata is how a code is presented to clients. Retryable codes tell the
// client that the same request may succeed later.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	final     = false
	retryable = true
	opaque    = false
	detailed  = true
)

var catalog = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, final, "validation failed", detailed},
	CodeUnauthorized:  {http.StatusUnauthorized, final, "authentication required", opaque},
	CodeForbidden:     {http.StatusForbidden, final, "access denied", opaque},
	CodeNotFound:      {http.StatusNotFound, final, "resource not found", opaque},
	CodeConflict:      {http.StatusConflict, final, "conflict detected", opaque},
	CodeStateConflict: {http.StatusUnprocessableEntity, final, "state transition disallowed", detailed},
	CodeIdempotency:   {http.StatusConflict, final, "idempotency key reused", detailed},
	CodeRateLimit:     {http.StatusTooManyRequests, final, "rate limit exceeded", opaque},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", opaque},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", detailed},

	CodeLotNotFound:           {http.StatusNotFound, final, "parking lot not found", opaque},
	CodeReservationNotFound:   {http.StatusNotFound, final, "reservation not found", opaque},
	CodeUserAlreadyActive:     {http.StatusConflict, final, "user already has an active reservation", detailed},
	CodeNoSpotsAvailable:      {http.StatusConflict, final, "no spots available", opaque},
	CodeConcurrentConflict:    {http.StatusConflict, retryable, "spot was taken concurrently, please retry", opaque},
	CodeInsufficientFreeSpots: {http.StatusUnprocessableEntity, final, "not enough free spots to remove", detailed},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := catalog[code]; ok {
		return m
	}
	return catalog[CodeInternal]
}

// Error is a coded error. The message is meant for clients when the code
// maps below 500; the cause is only ever logged.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a code and message to cause. A nil cause behaves like New.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails returns a copy carrying details, leaving e untouched.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.details = details
	return &out
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.code))
	if e.message != "" {
		b.WriteString(": ")
		b.WriteString(e.message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost coded error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
