// Package apperrors defines the error taxonomy shared by the services and
// the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error codes carried in response bodies
const (
	CodeValidation          = "ValidationError"
	CodeUnauthorized        = "Unauthorized"
	CodeForbidden           = "Forbidden"
	CodeNotFound            = "NotFound"
	CodeConflict            = "Conflict"
	CodeUpstream            = "UpstreamError"
	CodeTokenExpired        = "TokenExpiredError"
	CodeInvalidToken        = "InvalidToken"
	CodeRefreshTokenExpired = "RefreshTokenExpired"
	CodeInvalidRefreshToken = "InvalidRefreshToken"
	CodeEmailNotConfirmed   = "EmailNotConfirmed"
)

// Error is an application error with a kind, a stable code and a message
// that is safe to show to the client
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int // optional override of the status derived from Kind
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code for the error
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return StatusFor(e.Kind)
}

// WithCode returns a copy of the error with another code
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// StatusFor maps a kind to its HTTP status
func StatusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: message}
}

// Upstream wraps a failure of an external collaborator (identity provider,
// mail transport, image host)
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: CodeUpstream, Message: message, Err: err}
}

// As extracts an *Error from the chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal when err is not an *Error
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
