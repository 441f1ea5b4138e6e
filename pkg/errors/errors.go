package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code classifies a failure; the HTTP layer and the heal cycle both branch
// on it.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeRemote        Code = "REMOTE_SERVICE_ERROR"
	CodeTokenExpired  Code = "TOKEN_EXPIRED"
	CodeTokenInvalid  Code = "TOKEN_INVALID"
	CodeOrderNotPaid  Code = "ORDER_NOT_PAID"
	CodeUnsupported   Code = "UNSUPPORTED"
)

// Metadata is what a caller outside the process may learn about a code.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = 1 << iota
	withDetails
)

func entry(status int, public string, flags int) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&withDetails != 0,
	}
}

var registry = map[Code]Metadata{
	CodeValidation:    entry(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:  entry(http.StatusUnauthorized, "authentication required", 0),
	CodeForbidden:     entry(http.StatusForbidden, "access denied", 0),
	CodeNotFound:      entry(http.StatusNotFound, "resource not found", 0),
	CodeConflict:      entry(http.StatusConflict, "conflict detected", 0),
	CodeStateConflict: entry(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodeInternal:      entry(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    entry(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),
	CodeRemote:        entry(http.StatusBadGateway, "remote service rejected the request", withDetails),
	CodeTokenExpired:  entry(http.StatusForbidden, "download link expired", 0),
	CodeTokenInvalid:  entry(http.StatusForbidden, "download link invalid", 0),
	CodeOrderNotPaid:  entry(http.StatusForbidden, "order not paid", 0),
	CodeUnsupported:   entry(http.StatusNotImplemented, "operation not supported", 0),
}

// MetadataFor treats unknown codes as internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := registry[code]; ok {
		return meta
	}
	return registry[CodeInternal]
}

// Error is a coded failure with an optional cause and public details.
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

// Wrap attaches code and message to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
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

// WithDetails sets the payload surfaced to clients for codes that allow it.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
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

// CodeOf returns the code of the outermost typed error, or CodeInternal.
func CodeOf(err error) Code {
	return As(err).Code()
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsRetryable(err error) bool {
	return MetadataFor(CodeOf(err)).Retryable
}
