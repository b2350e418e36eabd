// Package apperr defines the gateway's error taxonomy and its HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeBadRequest    Code = "invalid_request_error"
	CodeUnauthorized  Code = "authentication_error"
	CodeForbidden     Code = "permission_error"
	CodeNotFound      Code = "not_found_error"
	CodeQuotaExceeded Code = "rate_limit_exceeded"
	CodeUpstream      Code = "upstream_error"
	CodeTransport     Code = "transport_error"
	CodeInternal      Code = "server_error"
)

// Error is the unified application error.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string, status int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

func BadRequest(message string) *Error {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message, http.StatusNotFound)
}

func QuotaExceeded(message string) *Error {
	return New(CodeQuotaExceeded, message, http.StatusTooManyRequests)
}

// Upstream carries the provider's own status code so callers can surface it verbatim.
func Upstream(status int, message string) *Error {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return New(CodeUpstream, message, status)
}

func Transport(message string) *Error {
	return New(CodeTransport, message, http.StatusBadGateway)
}

func Internal(message string) *Error {
	return New(CodeInternal, message, http.StatusInternalServerError)
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
