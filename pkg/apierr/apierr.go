// Package apierr defines the error taxonomy surfaced to bridge callers.
//
// Every error leaving the bridge is an *Error with a stable Kind. Messages are
// built from status lines and upstream error messages only, never from request
// headers, so they are safe to return to callers and to log.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Kind classifies an error for handling and for the HTTP surface.
type Kind string

const (
	// KindValidation is a bad filter field, id or parameter, rejected before
	// anything is sent upstream.
	KindValidation Kind = "validation"

	// KindUpstreamQuery is a GraphQL response carrying an errors array.
	KindUpstreamQuery Kind = "upstream_query"

	// KindTransport is a connection failure or timeout.
	KindTransport Kind = "transport"

	// KindAuth is a 401/403 from upstream.
	KindAuth Kind = "auth"

	// KindRateLimit is a 429 or a THROTTLED GraphQL error.
	KindRateLimit Kind = "rate_limit"

	// KindNotFound is a 404 or an empty single-item payload.
	KindNotFound Kind = "not_found"

	// KindServer is a 5xx from upstream.
	KindServer Kind = "server"

	// KindClient is any other 4xx from upstream.
	KindClient Kind = "client"

	// KindCircuitOpen means the breaker refused the call.
	KindCircuitOpen Kind = "circuit_open"

	// KindInternal is a local failure that could not be degraded.
	KindInternal Kind = "internal"
)

// Retryable reports whether errors of this kind may succeed on another attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindServer, KindRateLimit, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the kind onto the status code returned to REST callers.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindUpstreamQuery, KindClient:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTransport, KindServer:
		return http.StatusBadGateway
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the bridge error type.
type Error struct {
	Kind Kind

	// StatusCode is the upstream HTTP status, 0 when no response was received.
	StatusCode int

	Message string

	// Upstream holds the decoded GraphQL errors for KindUpstreamQuery and
	// THROTTLED rate limits.
	Upstream gqlerror.List

	// RawUpstream is the upstream errors payload exactly as received.
	RawUpstream json.RawMessage

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation is shorthand for a KindValidation error.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// FromStatus classifies an upstream HTTP status. 2xx and 3xx return nil.
func FromStatus(status int, message string) *Error {
	var kind Kind
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status >= 500:
		kind = KindServer
	default:
		kind = KindClient
	}
	return &Error{Kind: kind, StatusCode: status, Message: message}
}

// FromGraphQL builds an error from an upstream errors payload. The raw payload
// is kept verbatim. A payload whose errors all carry the THROTTLED extension
// code is classified as a rate limit, everything else as an upstream query
// error.
func FromGraphQL(raw json.RawMessage) *Error {
	var list gqlerror.List
	_ = json.Unmarshal(raw, &list)

	e := &Error{
		Kind:        KindUpstreamQuery,
		Upstream:    list,
		RawUpstream: append(json.RawMessage(nil), raw...),
	}

	if len(list) > 0 {
		e.Message = list[0].Message
		if len(list) > 1 {
			e.Message = fmt.Sprintf("%s (and %d more)", e.Message, len(list)-1)
		}
		if allThrottled(list) {
			e.Kind = KindRateLimit
		}
	} else {
		e.Message = "upstream returned errors"
	}

	return e
}

func allThrottled(list gqlerror.List) bool {
	for _, ge := range list {
		if ge == nil {
			return false
		}
		if code, _ := ge.Extensions["code"].(string); code != "THROTTLED" {
			return false
		}
	}
	return true
}

// KindOf returns the kind of err, KindInternal for foreign errors and the
// empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
