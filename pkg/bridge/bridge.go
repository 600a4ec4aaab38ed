// Package bridge answers REST-style reads from the Admin GraphQL API.
//
// Fetch ties the pieces together: the request is validated and translated
// into a query plan, the cache is checked, and on a miss the document is
// built, executed with retries and breaker protection, normalized into flat
// records and cached. Concurrent misses for the same key share one upstream
// request.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/cache"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/client"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/events"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/filter"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/normalize"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/pagination"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/query"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// Executor runs a GraphQL document upstream. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, creds client.Credentials, operation, document string) (*client.Response, error)
}

// Bridge serves reads for any number of shops.
type Bridge struct {
	exec     Executor
	cache    *cache.Manager
	paging   pagination.Config
	resolver *pagination.Resolver
	sink     events.Sink
	filter   filter.Options
	logger   zerolog.Logger
	now      func() time.Time

	group singleflight.Group
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithCache enables response caching.
func WithCache(m *cache.Manager) Option {
	return func(b *Bridge) { b.cache = m }
}

// WithSink receives the request, cache and invalidation events.
func WithSink(s events.Sink) Option {
	return func(b *Bridge) { b.sink = s }
}

// WithStrictFilter rejects unsupported filter clauses instead of dropping
// them.
func WithStrictFilter(strict bool) Option {
	return func(b *Bridge) { b.filter.Strict = strict }
}

// WithPagination configures offset emulation.
func WithPagination(cfg pagination.Config) Option {
	return func(b *Bridge) { b.paging = cfg }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New creates a bridge over exec.
func New(exec Executor, opts ...Option) *Bridge {
	b := &Bridge{
		exec:   exec,
		paging: pagination.DefaultConfig(),
		sink:   events.Discard,
		logger: log.With().Str("component", "bridge").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.resolver = pagination.NewResolver(pagination.NewWalker(b.paging), b.cache)
	return b
}

// Fetch answers req for the shop in creds.
func (b *Bridge) Fetch(ctx context.Context, creds client.Credentials, req Request) (*normalize.Result, error) {
	start := b.now()
	shop := creds.Shop()

	res, hit, attempts, op, err := b.fetch(ctx, creds, req)

	elapsed := b.now().Sub(start)
	label := string(req.Kind)
	if kind, perr := resource.ParseKind(label); perr == nil {
		label = kind.Plural()
	}
	requestDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	e := events.New(events.TypeRequest, shop, op)
	e.Duration = elapsed
	e.CacheHit = hit
	e.Attempt = attempts
	outcome := "success"
	if hit {
		outcome = "cache_hit"
	}
	if err != nil {
		outcome = "error"
		e.ErrorKind = string(apierr.KindOf(err))
		e.Message = err.Error()
	} else {
		e.Records = len(res.Records)
	}
	requestsTotal.WithLabelValues(label, outcome).Inc()
	b.publish(ctx, e)

	logEvent := b.logger.Debug()
	if err != nil {
		logEvent = b.logger.Warn().Err(err).Str("error_kind", e.ErrorKind)
	}
	logEvent.
		Str("shop", shop).
		Str("operation", op).
		Bool("cache_hit", hit).
		Int("records", e.Records).
		Dur("duration", elapsed).
		Msg("Fetch completed")

	return res, err
}

func (b *Bridge) fetch(ctx context.Context, creds client.Credentials, req Request) (*normalize.Result, bool, int, string, error) {
	if err := creds.Validate(); err != nil {
		return nil, false, 0, "", err
	}
	shop := creds.Shop()

	plan, err := req.plan(b.filter)
	if err != nil {
		return nil, false, 0, "", err
	}
	op := plan.Operation()
	key := cacheKey(shop, plan, req.Offset)

	// Step 1: Check Cache
	if res, ok := b.lookup(ctx, key, plan); ok {
		return res, true, 0, op, nil
	}
	b.publish(ctx, events.New(events.TypeCacheMiss, shop, op))

	// Step 2: Coalesce concurrent misses
	type outcome struct {
		res      *normalize.Result
		attempts int
	}
	v, err, shared := b.group.Do(key.String(), func() (any, error) {
		// Double-check cache inside singleflight
		if res, ok := b.lookup(ctx, key, plan); ok {
			return outcome{res: res}, nil
		}
		res, attempts, err := b.load(ctx, creds, req, plan)
		if err != nil {
			return outcome{attempts: attempts}, err
		}
		b.store(ctx, key, res)
		return outcome{res: res, attempts: attempts}, nil
	})
	o, _ := v.(outcome)
	if shared {
		b.logger.Debug().Str("shop", shop).Str("operation", op).Msg("Shared in-flight upstream request")
	}
	if err != nil {
		return nil, false, o.attempts, op, err
	}
	return o.res, false, o.attempts, op, nil
}

// load resolves the offset, executes the plan and normalizes the response.
func (b *Bridge) load(ctx context.Context, creds client.Credentials, req Request, plan query.Plan) (*normalize.Result, int, error) {
	if req.needsOffset(plan) {
		cursor, found, err := b.resolver.Resolve(ctx, pagination.Target{
			Shop:   creds.Shop(),
			Kind:   plan.Kind,
			Filter: plan.Filter,
			Offset: req.Offset,
		}, b.idPages(creds, plan))
		if err != nil {
			return nil, 0, err
		}
		if !found {
			return &normalize.Result{
				Kind:     plan.RecordKind(),
				Records:  []resource.Record{},
				PageInfo: &normalize.PageInfo{HasPreviousPage: true},
			}, 0, nil
		}
		plan.Cursor = cursor
	}

	doc, err := query.Build(plan)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.KindValidation, err, "build query")
	}

	resp, err := b.exec.Execute(ctx, creds, plan.Operation(), doc.Text)
	attempts := 0
	if resp != nil {
		attempts = resp.Attempts
	}
	if err != nil {
		return nil, attempts, err
	}

	res, err := normalize.Normalize(plan, envelope(resp))
	if err != nil {
		return nil, attempts, err
	}
	return res, attempts, nil
}

// idPages fetches id-only pages of the plan's list for offset resolution.
func (b *Bridge) idPages(creds client.Credentials, plan query.Plan) pagination.PageFetcher {
	return pagination.PageFetcherFunc(func(ctx context.Context, after string, first int) (pagination.Page, error) {
		p := query.Plan{
			Kind:   plan.Kind,
			Mode:   query.ModeList,
			Limit:  first,
			Cursor: after,
			Filter: plan.Filter,
			Fields: []string{"id"},
		}
		doc, err := query.Build(p)
		if err != nil {
			return pagination.Page{}, err
		}
		resp, err := b.exec.Execute(ctx, creds, p.Operation(), doc.Text)
		if err != nil {
			return pagination.Page{}, err
		}
		res, err := normalize.Normalize(p, envelope(resp))
		if err != nil {
			return pagination.Page{}, err
		}
		page := pagination.Page{Count: len(res.Records)}
		if res.PageInfo != nil {
			page.EndCursor = res.PageInfo.EndCursor
			page.HasNextPage = res.PageInfo.HasNextPage
		}
		return page, nil
	})
}

func (b *Bridge) lookup(ctx context.Context, key cache.CacheKey, plan query.Plan) (*normalize.Result, bool) {
	if b.cache == nil {
		return nil, false
	}
	entry, ok := b.cache.Lookup(ctx, key)
	if !ok {
		return nil, false
	}
	res, err := normalize.Decode(plan.RecordKind(), entry.Payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("shop", key.Shop).Str("operation", key.Operation).Msg("Dropping undecodable cache entry")
		b.cache.Invalidate(ctx, key)
		return nil, false
	}

	e := events.New(events.TypeCacheHit, key.Shop, key.Operation)
	e.CacheHit = true
	e.Records = len(res.Records)
	b.publish(ctx, e)
	return res, true
}

func (b *Bridge) store(ctx context.Context, key cache.CacheKey, res *normalize.Result) {
	if b.cache == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		b.logger.Warn().Err(err).Str("operation", key.Operation).Msg("Failed to encode result for cache")
		return
	}
	b.cache.Put(ctx, key, payload)
}

// Invalidate drops the cached responses a change to kind (and id, when
// positive) may have made stale. It is the hook for webhook handlers and
// future write support.
func (b *Bridge) Invalidate(ctx context.Context, shop string, kind resource.Kind, id int64) (int, error) {
	if b.cache == nil {
		return 0, nil
	}
	shop = strings.ToLower(strings.TrimSpace(shop))
	n, err := b.cache.InvalidateRelated(ctx, shop, kind, id)

	e := events.New(events.TypeInvalidation, shop, kind.Plural())
	e.Records = n
	if id > 0 {
		e.Message = fmt.Sprintf("%s %d", kind, id)
	}
	if err != nil {
		e.ErrorKind = string(apierr.KindInternal)
		e.Message = err.Error()
	}
	b.publish(ctx, e)

	if err != nil {
		return n, fmt.Errorf("invalidate %s: %w", kind.Plural(), err)
	}
	return n, nil
}

func (b *Bridge) publish(ctx context.Context, e events.Event) {
	if err := b.sink.Publish(ctx, e); err != nil {
		b.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to publish event")
	}
}

// envelope re-wraps the data of resp for the normalizer. Errors were already
// turned into an error by the client.
func envelope(resp *client.Response) []byte {
	raw, _ := json.Marshal(struct {
		Data json.RawMessage `json:"data"`
	}{Data: resp.Data})
	return raw
}

// RetryEvents returns a client option publishing every retry to sink.
// Publish failures are logged to logger.
func RetryEvents(sink events.Sink, logger zerolog.Logger) client.RetrierOption {
	return client.WithObserver(func(a client.Attempt) {
		if a.Backoff <= 0 {
			return
		}
		shop, op, _ := strings.Cut(a.Name, "/")
		e := events.New(events.TypeRetry, shop, op)
		e.Attempt = a.Number
		e.Duration = a.Backoff
		e.ErrorKind = string(apierr.KindOf(a.Err))
		if a.Err != nil {
			e.Message = a.Err.Error()
		}
		if err := sink.Publish(context.Background(), e); err != nil {
			logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to publish event")
		}
	})
}
