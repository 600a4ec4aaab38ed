package bridge

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/cache"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/filter"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/query"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// Request is one REST-style read.
type Request struct {
	Kind resource.Kind

	// ID selects a single item, or the parent of Sub.
	ID int64

	// Sub names a sub-resource of the item, e.g. "variants".
	Sub string

	// Limit is the page size. Zero means the default, larger values are
	// clamped to the upstream maximum.
	Limit int

	// Offset skips records of a list. Ignored when Cursor is set.
	Offset int

	// Cursor continues a list after a previous page's end_cursor.
	Cursor string

	// Fields are the requested field names. Empty selects the default set.
	Fields []string

	// Filter is the filter text, e.g. "title~'Shirt' AND status='active'".
	Filter string

	// IDs restricts a list to explicit ids and overrides every other filter.
	IDs []string

	// Params are the remaining query parameters; those on the kind's
	// allow-list become filter clauses.
	Params map[string]string
}

// Mode returns the document mode the request maps to.
func (r Request) Mode() query.Mode {
	switch {
	case r.Sub != "":
		return query.ModeSub
	case r.ID != 0:
		return query.ModeSingle
	default:
		return query.ModeList
	}
}

// plan validates r and translates it into a query plan. The cursor is left
// empty when an offset still has to be resolved.
func (r Request) plan(opts filter.Options) (query.Plan, error) {
	kind, err := resource.ParseKind(string(r.Kind))
	if err != nil {
		return query.Plan{}, apierr.Validation("unsupported resource %q", r.Kind)
	}
	r.Kind = kind
	if r.Limit < 0 {
		return query.Plan{}, apierr.Validation("limit must be >= 0 (got %d)", r.Limit)
	}
	if r.Offset < 0 {
		return query.Plan{}, apierr.Validation("offset must be >= 0 (got %d)", r.Offset)
	}

	p := query.Plan{
		Kind:   r.Kind,
		Mode:   r.Mode(),
		ID:     r.ID,
		Sub:    r.Sub,
		Limit:  r.Limit,
		Cursor: r.Cursor,
		Fields: r.Fields,
	}

	switch p.Mode {
	case query.ModeSingle, query.ModeSub:
		if r.ID <= 0 {
			return query.Plan{}, apierr.Validation("%s id must be a positive integer (got %d)", r.Kind, r.ID)
		}
		if p.Mode == query.ModeSub {
			if _, ok := resource.SubResource(r.Kind, r.Sub); !ok {
				return query.Plan{}, apierr.Validation("%s has no sub-resource %q", r.Kind, r.Sub)
			}
			if r.Offset > 0 && r.Cursor == "" {
				return query.Plan{}, apierr.Validation("offset paging is only supported on top-level lists, use cursor")
			}
		}
		if opts.Strict && (r.Filter != "" || len(r.IDs) > 0) {
			return query.Plan{}, apierr.Validation("filters are only supported on top-level lists")
		}

	case query.ModeList:
		args, err := filter.Translate(r.Kind, r.Filter, r.IDs, r.Params, opts)
		if err != nil {
			return query.Plan{}, err
		}
		p.Filter = args.String()
	}

	return p.Normalized(), nil
}

// needsOffset reports whether the cursor must be derived from the offset.
func (r Request) needsOffset(p query.Plan) bool {
	return p.Mode == query.ModeList && r.Cursor == "" && r.Offset > 0
}

// cacheKey derives the response key from the normalized plan. Field order
// and case do not matter, and names the builder ignores are left out.
func cacheKey(shop string, p query.Plan, offset int) cache.CacheKey {
	params := map[string]string{}

	if len(p.Fields) > 0 {
		kind := p.RecordKind()
		fields := make([]string, 0, len(p.Fields))
		for _, f := range p.Fields {
			if f = strings.ToLower(strings.TrimSpace(f)); f != "" && query.KnownField(kind, f) {
				fields = append(fields, f)
			}
		}
		// Only unknown names still select the id alone.
		if len(fields) == 0 {
			fields = append(fields, "id")
		}
		sort.Strings(fields)
		params["fields"] = strings.Join(slices.Compact(fields), ",")
	}

	if p.Mode != query.ModeSingle {
		params["limit"] = strconv.Itoa(p.Limit)
		if p.Cursor != "" {
			params["cursor"] = p.Cursor
		} else if offset > 0 {
			params["offset"] = strconv.Itoa(offset)
		}
	}
	if p.Filter != "" {
		params["filter"] = p.Filter
	}

	key := cache.CacheKey{Shop: shop, Operation: p.Operation(), Params: params}
	if p.Mode != query.ModeList {
		key.ID = p.ID
	}
	return key
}
