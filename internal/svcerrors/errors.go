// Package svcerrors provides the unified error-kind vocabulary of spec §7,
// grounded on the teacher's infrastructure/errors package: a single
// structured error type with a kind, an HTTP-equivalent status, and
// constructor functions per kind.
package svcerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds named in spec §7.
type Kind string

const (
	KindUpstream        Kind = "upstream"
	KindAuthExpired     Kind = "auth_expired"
	KindAuthUnavailable Kind = "auth_unavailable"
	KindAuthConfig      Kind = "auth_config"
	KindRateLimited     Kind = "rate_limited"
	KindNotFound        Kind = "not_found"
	KindCircuitOpen     Kind = "circuit_open"
	KindValidation      Kind = "validation"
	KindPrivacyDenied   Kind = "privacy_denied"
	KindInternal        Kind = "internal"
)

// Error is a structured, chainable gateway error.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	RetryAfter int // seconds; only meaningful for KindRateLimited
	Details    map[string]interface{}
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches a detail key/value and returns the receiver for
// chaining, mirroring the teacher's ServiceError.WithDetails.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newErr(kind Kind, message string, status int) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: status}
}

func wrapErr(kind Kind, message string, status int, err error) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: status, Err: err}
}

// Upstream wraps a retry-exhausted upstream failure.
func Upstream(provider string, err error) *Error {
	return wrapErr(KindUpstream, "upstream call failed", http.StatusBadGateway, err).
		WithDetails("provider", provider)
}

// CircuitOpenErr surfaces a breaker-rejected call, per spec §7.
func CircuitOpenErr(provider string) *Error {
	return newErr(KindCircuitOpen, "circuit open", http.StatusServiceUnavailable).
		WithDetails("provider", provider)
}

// AuthExpired is raised by the HTTP Caller on a 401; non-retryable at that
// layer, the adapter may attempt one in-place re-auth.
func AuthExpired(service string) *Error {
	return newErr(KindAuthExpired, "credential expired", http.StatusUnauthorized).
		WithDetails("service", service)
}

// AuthUnavailable is raised when a token endpoint is unreachable or a
// second 401 occurs after re-auth.
func AuthUnavailable(service string, err error) *Error {
	return wrapErr(KindAuthUnavailable, "authentication unavailable", http.StatusBadGateway, err).
		WithDetails("service", service)
}

// AuthConfig is fatal for a provider: 400/403 from a token endpoint.
func AuthConfig(service string, err error) *Error {
	return wrapErr(KindAuthConfig, "authentication misconfigured", http.StatusUnauthorized, err).
		WithDetails("service", service)
}

// RateLimited carries the retry-after hint from either the limiter or an
// upstream 429.
func RateLimited(provider string, retryAfterSeconds int) *Error {
	return newErr(KindRateLimited, "rate limited", http.StatusTooManyRequests).
		WithDetails("provider", provider).
		WithDetails("retry_after", retryAfterSeconds)
}

// NotFound normalizes a 404 to an empty/absent result, not an error that
// aborts a fan-out — callers use this to distinguish "legitimately absent"
// from "failed".
func NotFound(resource, id string) *Error {
	return newErr(KindNotFound, "not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Validation is fatal for the request: bad input, wrong key length, etc.
func Validation(field, reason string) *Error {
	return newErr(KindValidation, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// PrivacyDenied surfaces when a request needs data the privacy layer
// refuses to disclose.
func PrivacyDenied(reason string) *Error {
	return newErr(KindPrivacyDenied, "privacy denied", http.StatusForbidden).
		WithDetails("reason", reason)
}

// Internal wraps an unexpected internal failure.
func Internal(message string, err error) *Error {
	return wrapErr(KindInternal, message, http.StatusInternalServerError, err)
}

// As recovers a *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether err's kind is one C5 should retry: network
// failures surfaced as KindUpstream with no HTTP status carry through a
// sentinel check performed by the retry package itself (it sees the raw
// transport error, not this type, during the attempt); this helper covers
// the case where a typed *Error has already been classified upstream
// (e.g. inside a single adapter call that wraps a transient HTTP status).
func Retryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindUpstream:
		return true
	default:
		return false
	}
}
