package cache

import (
	"encoding/json"
	"strings"
	"time"
)

// Freshness rules per resource collection.
var namespaceTTLs = map[string]time.Duration{
	"products":    600 * time.Second,
	"orders":      120 * time.Second,
	"customers":   300 * time.Second,
	"collections": 1800 * time.Second,
	"variants":    600 * time.Second,
}

const (
	// SingleItemTTL applies to single-item lookups.
	SingleItemTTL = 300 * time.Second

	// DefaultTTL applies to operations matching no rule.
	DefaultTTL = 300 * time.Second
)

// TTLFor resolves the freshness window of an operation name.
//
//	products.list      -> products (600s)
//	product.get        -> single item (300s)
//	product.variants   -> variants (600s)
//	collection.products -> products (600s)
func TTLFor(operation string) time.Duration {
	res, action, _ := strings.Cut(operation, ".")
	switch action {
	case "get":
		return SingleItemTTL
	case "list", "cursor":
		if ttl, ok := namespaceTTLs[namespaceOf(res)]; ok {
			return ttl
		}
	default:
		if ttl, ok := namespaceTTLs[action]; ok {
			return ttl
		}
		if ttl, ok := namespaceTTLs[namespaceOf(res)]; ok {
			return ttl
		}
	}
	return DefaultTTL
}

// CacheEntry represents a cached bridge response.
type CacheEntry struct {
	// Payload is the normalized response body
	Payload json.RawMessage `json:"payload"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`

	// ExpiresAt is when the entry becomes stale
	ExpiresAt time.Time `json:"expires_at"`

	Operation string `json:"operation"`
	Shop      string `json:"shop"`
}

// IsExpired returns true if the entry is stale at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time left until expiration at now.
// Returns 0 if already expired.
func (e *CacheEntry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// IsFresh reports whether the entry is younger than maxAge at now. A
// non-positive maxAge uses the operation's own TTL.
func IsFresh(e *CacheEntry, maxAge time.Duration, now time.Time) bool {
	if e == nil {
		return false
	}
	if maxAge <= 0 {
		maxAge = TTLFor(e.Operation)
	}
	return now.Sub(e.CachedAt) < maxAge
}
