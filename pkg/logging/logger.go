// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every record as "service" when set.
	Service string

	// Caller adds the source location to every record.
	Caller bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: "shopify-gql-bridge",
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// ParseLevel validates a configured level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForRequest derives a logger carrying the request id and shop.
func ForRequest(logger zerolog.Logger, requestID, shop string) zerolog.Logger {
	return logger.With().Str("request_id", requestID).Str("shop", shop).Logger()
}

// RedactToken keeps the token prefix and its last four characters, enough
// to tell tokens apart in logs.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	prefix := ""
	if i := strings.IndexByte(token, '_'); i > 0 && i < 8 {
		prefix = token[:i+1]
	}
	return prefix + "****" + token[len(token)-4:]
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Rendered operations and page walks
//   - Breaker and bucket state reads
//
// Info: Normal operation events
//   - Requests that succeeded after a retry
//   - Breaker transitions back to closed
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Query cost throttling
//   - Retry exhaustion
//   - Cache or breaker store errors (degraded to pass-through)
//   - GraphQL errors in a response
//
// Error: Error conditions requiring attention
//   - Transport failures
//   - Empty cost bucket refusals
//   - Breaker opening
//   - Configuration errors
//
// Context Fields:
//   - shop: shop domain
//   - operation: read operation, e.g. products.list
//   - attempt: retry attempt number
//   - error_kind: apierr kind
//   - cache_hit: Boolean indicating cache hit
//   - breaker, state: breaker name and state
//   - ttl, duration: cache TTL and request duration
