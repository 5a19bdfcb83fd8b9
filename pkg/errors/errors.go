// Package errors carries the typed error codes shared by services and the API
// layer. Each code maps to one HTTP status and a public message.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

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

	// CodeInsufficientCredits signals a failed hold; no record was created.
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
)

// Metadata describes how a code surfaces to clients. CallerMessage codes
// replace PublicMessage with the message the service wrote.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	CallerMessage  bool
}

var catalog = map[Code]Metadata{
	CodeValidation:          {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, CallerMessage: true},
	CodeUnauthorized:        {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", CallerMessage: true},
	CodeForbidden:           {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", CallerMessage: true},
	CodeNotFound:            {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", CallerMessage: true},
	CodeConflict:            {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", CallerMessage: true},
	CodeStateConflict:       {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true, CallerMessage: true},
	CodeIdempotency:         {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true, CallerMessage: true},
	CodeRateLimit:           {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", CallerMessage: true},
	CodeInternal:            {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:          {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
	CodeInsufficientCredits: {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "insufficient credits", DetailsAllowed: true},
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
}

// Error is a coded error with optional client-visible details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
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

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf reports the code of err, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given typed code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether a caller may retry the failed operation as-is.
func Retryable(err error) bool {
	return err != nil && MetadataFor(CodeOf(err)).Retryable
}
