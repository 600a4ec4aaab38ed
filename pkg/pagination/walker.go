package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/cache"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// Config holds walker configuration.
type Config struct {
	// PageSize is the number of ids fetched per step, at most 250.
	PageSize int

	// Timeout per page fetch.
	Timeout time.Duration

	// MaxOffset rejects deeper offsets as a validation error. Zero disables
	// the bound.
	MaxOffset int
}

// DefaultConfig returns safe default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:  250,
		Timeout:   30 * time.Second,
		MaxOffset: 25000,
	}
}

// Page is what the walker needs from one id-only page.
type Page struct {
	Count       int
	EndCursor   string
	HasNextPage bool
}

// PageFetcher fetches one page of at most first records after the cursor.
type PageFetcher interface {
	FetchPage(ctx context.Context, after string, first int) (Page, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, after string, first int) (Page, error)

// FetchPage implements PageFetcher.
func (f PageFetcherFunc) FetchPage(ctx context.Context, after string, first int) (Page, error) {
	return f(ctx, after, first)
}

// Walker converts offsets into cursors by walking pages.
type Walker struct {
	config Config
	logger zerolog.Logger
}

// NewWalker creates a new walker.
func NewWalker(config Config) *Walker {
	if config.PageSize <= 0 || config.PageSize > 250 {
		config.PageSize = 250
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Walker{
		config: config,
		logger: log.With().Str("component", "pagination").Logger(),
	}
}

// CursorForOffset returns the cursor after which the record at offset
// starts. Offset 0 needs no request and returns the empty cursor. ok is false
// when the offset lies past the end of the connection.
func (w *Walker) CursorForOffset(ctx context.Context, fetcher PageFetcher, offset int) (string, bool, error) {
	switch {
	case offset < 0:
		return "", false, apierr.Validation("offset must be >= 0 (got %d)", offset)
	case w.config.MaxOffset > 0 && offset > w.config.MaxOffset:
		return "", false, apierr.Validation("offset %d exceeds the maximum of %d, use cursor paging", offset, w.config.MaxOffset)
	case offset == 0:
		return "", true, nil
	}

	start := time.Now()
	remaining := offset
	after := ""
	pages := 0

	for remaining > 0 {
		first := min(w.config.PageSize, remaining)

		pageCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		page, err := fetcher.FetchPage(pageCtx, after, first)
		cancel()
		if err != nil {
			return "", false, fmt.Errorf("walk to offset %d (page %d): %w", offset, pages+1, err)
		}
		pages++

		if page.Count < first || (page.Count == first && remaining > first && !page.HasNextPage) {
			w.logger.Debug().
				Int("offset", offset).
				Int("pages", pages).
				Msg("Offset past the end of the connection")
			return "", false, nil
		}

		remaining -= page.Count
		after = page.EndCursor

		// Progress logging every 20 pages
		if pages%20 == 0 {
			w.logger.Info().
				Int("offset", offset).
				Int("walked", offset-remaining).
				Int("pages", pages).
				Msg("Offset walk progress")
		}
	}

	w.logger.Debug().
		Int("offset", offset).
		Int("pages", pages).
		Dur("duration", time.Since(start)).
		Msg("Offset resolved to cursor")

	return after, true, nil
}

// Target identifies one cached offset.
type Target struct {
	Shop   string
	Kind   resource.Kind
	Filter string
	Offset int
}

// cacheKey places resolved cursors in the namespace of the kind, so they are
// dropped together with the kind's lists.
func (t Target) cacheKey() cache.CacheKey {
	return cache.CacheKey{
		Shop:      t.Shop,
		Operation: t.Kind.Plural() + ".cursor",
		Params: map[string]string{
			"filter": t.Filter,
			"offset": strconv.Itoa(t.Offset),
		},
	}
}

type resolved struct {
	Cursor string `json:"cursor"`
	Found  bool   `json:"found"`
}

// Resolver caches walker results.
type Resolver struct {
	walker *Walker
	cache  *cache.Manager
}

// NewResolver creates a resolver. manager may be nil to disable caching.
func NewResolver(walker *Walker, manager *cache.Manager) *Resolver {
	return &Resolver{walker: walker, cache: manager}
}

// Resolve returns the cursor for t.Offset, reading and filling the cache.
func (r *Resolver) Resolve(ctx context.Context, t Target, fetcher PageFetcher) (string, bool, error) {
	if t.Offset == 0 {
		return "", true, nil
	}

	key := t.cacheKey()
	if r.cache != nil {
		if entry, ok := r.cache.Lookup(ctx, key); ok {
			var res resolved
			if err := json.Unmarshal(entry.Payload, &res); err == nil {
				return res.Cursor, res.Found, nil
			}
		}
	}

	cursor, found, err := r.walker.CursorForOffset(ctx, fetcher, t.Offset)
	if err != nil {
		return "", false, err
	}

	if r.cache != nil {
		payload, _ := json.Marshal(resolved{Cursor: cursor, Found: found})
		r.cache.Put(ctx, key, payload)
	}
	return cursor, found, nil
}
