package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/store"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// relatedNamespaces lists the cached collections a change to a kind affects.
var relatedNamespaces = map[resource.Kind][]string{
	resource.Product:    {"products", "collections"},
	resource.Order:      {"orders", "customers"},
	resource.Customer:   {"customers"},
	resource.Collection: {"collections", "products"},
}

// Manager handles caching operations over a store.Store.
//
// Get, Set and Delete report store failures to the caller. Lookup, Put and
// Invalidate are the request-path variants: they log and count failures and
// never return them, so an unavailable cache degrades to pass-through.
type Manager struct {
	store  store.Store
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a new cache manager over s.
func NewManager(s store.Store, opts ...Option) *Manager {
	if s == nil {
		panic("cache store cannot be nil")
	}
	m := &Manager{
		store:  s,
		now:    time.Now,
		logger: log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()
	namespace := key.Namespace()

	data, err := m.store.Get(ctx, cacheKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			CacheMisses.WithLabelValues(namespace).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		_ = m.store.Delete(ctx, cacheKey)
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Backends without exact expiry may still hand out lapsed entries.
	if entry.IsExpired(m.now()) {
		_ = m.store.Delete(ctx, cacheKey)
		CacheMisses.WithLabelValues(namespace).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(namespace).Inc()
	return &entry, nil
}

// Set stores a cache entry until its ExpiresAt.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL(m.now())
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.store.Set(ctx, key.String(), data, ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("cache set: %w", err)
	}

	PayloadBytes.WithLabelValues(key.Namespace()).Observe(float64(len(entry.Payload)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.store.Delete(ctx, key.String()); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// NewEntry builds an entry for payload with the operation's TTL.
func (m *Manager) NewEntry(key CacheKey, payload []byte) *CacheEntry {
	now := m.now()
	return &CacheEntry{
		Payload:   append(json.RawMessage(nil), payload...),
		CachedAt:  now,
		ExpiresAt: now.Add(TTLFor(key.Operation)),
		Operation: key.Operation,
		Shop:      key.Shop,
	}
}

// Lookup is Get for the request path: any failure is logged and reported as
// a miss.
func (m *Manager) Lookup(ctx context.Context, key CacheKey) (*CacheEntry, bool) {
	entry, err := m.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().Err(err).Str("shop", key.Shop).Str("operation", key.Operation).Msg("Cache read failed, passing through")
		}
		return nil, false
	}
	return entry, true
}

// Put stores payload under key with the operation's TTL. Failures are logged.
func (m *Manager) Put(ctx context.Context, key CacheKey, payload []byte) *CacheEntry {
	entry := m.NewEntry(key, payload)
	if err := m.Set(ctx, key, entry); err != nil {
		m.logger.Warn().Err(err).Str("shop", key.Shop).Str("operation", key.Operation).Msg("Cache write failed, passing through")
		return nil
	}
	m.logger.Debug().
		Str("shop", key.Shop).
		Str("operation", key.Operation).
		Dur("ttl", TTLFor(key.Operation)).
		Msg("Cached response")
	return entry
}

// Invalidate removes one entry. Failures are logged.
func (m *Manager) Invalidate(ctx context.Context, key CacheKey) {
	if err := m.Delete(ctx, key); err != nil {
		m.logger.Warn().Err(err).Str("shop", key.Shop).Str("operation", key.Operation).Msg("Cache invalidation failed")
	}
}

// InvalidateRelated removes the entries a change to kind may have made stale
// and returns how many keys were deleted.
//
// Without an id every entry of the affected namespaces goes. With an id, the
// kind's own namespace loses its list entries and the entries of that item,
// while related namespaces are cleared completely.
func (m *Manager) InvalidateRelated(ctx context.Context, shop string, kind resource.Kind, id int64) (int, error) {
	namespaces, ok := relatedNamespaces[kind]
	if !ok {
		return 0, fmt.Errorf("no invalidation rule for %q", kind)
	}

	own := kind.Plural()
	itemSegment := "id=" + strconv.FormatInt(id, 10) + ":"

	removed := 0
	for _, ns := range namespaces {
		prefix := shopPrefix(shop, ns)
		keys, err := m.store.Keys(ctx, prefix)
		if err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return removed, fmt.Errorf("list %s keys: %w", ns, err)
		}

		for _, k := range keys {
			if id > 0 && ns == own {
				rest := strings.TrimPrefix(k, prefix)
				if strings.HasPrefix(rest, "id=") && !strings.HasPrefix(rest, itemSegment) {
					continue
				}
			}
			if err := m.store.Delete(ctx, k); err != nil {
				CacheErrors.WithLabelValues("invalidate").Inc()
				return removed, fmt.Errorf("delete %s: %w", k, err)
			}
			removed++
		}
	}

	Invalidations.WithLabelValues(string(kind)).Add(float64(removed))
	m.logger.Info().
		Str("shop", shop).
		Str("kind", string(kind)).
		Int64("id", id).
		Int("removed", removed).
		Msg("Invalidated related cache entries")
	return removed, nil
}
