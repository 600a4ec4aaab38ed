package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is matched by every RetryError.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// RetryError is returned when every attempt failed with a retryable error.
type RetryError struct {
	Operation string
	Attempts  int
	Last      error
}

// Error implements the error interface.
func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: %v after %d attempts: %v", e.Operation, ErrRetryExhausted, e.Attempts, e.Last)
}

// Unwrap exposes both ErrRetryExhausted and the last attempt's error, so
// errors.As still finds the underlying *apierr.Error.
func (e *RetryError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Last}
}

// shouldRetry determines if an error should be retried based on its kind.
// Errors that do not carry a kind are internal and never retried.
func shouldRetry(err error) bool {
	return apierr.KindOf(err).Retryable()
}

// RecoverySuggestions returns operator hints for err.
func RecoverySuggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch apierr.KindOf(err) {
	case apierr.KindAuth:
		return []string{
			"Verify the access token is valid and has not been revoked",
			"Check the app has the read scopes for the requested resource",
		}
	case apierr.KindRateLimit:
		return []string{
			"Reduce the page size or the number of requested fields to lower query cost",
			"Spread requests over time, the bucket refills at the shop's restore rate",
		}
	case apierr.KindTransport:
		return []string{
			"Check network connectivity and DNS resolution for the shop domain",
			"Verify the shop domain is spelled correctly",
		}
	case apierr.KindUpstreamQuery, apierr.KindValidation:
		return []string{
			"Check the requested field names against the resource's field list",
			"Verify the configured API version supports the requested fields",
		}
	case apierr.KindServer:
		return []string{
			"Upstream is failing, check the platform status page",
			"Retry later, transient server errors usually clear within minutes",
		}
	case apierr.KindCircuitOpen:
		return []string{
			"Wait for the breaker cooldown before retrying",
			"Reset the breaker once the upstream issue is resolved",
		}
	case apierr.KindNotFound:
		return []string{"Verify the resource id exists in this shop"}
	default:
		return []string{"Inspect the logs for the failing operation"}
	}
}
