// Package normalize flattens Admin API GraphQL responses into the flat records
// and pagination metadata returned to REST callers.
//
// Global ids become plain numbers, upstream camelCase fields become their
// snake_case REST names, enum values are lower-cased, tag lists are joined
// and nested collections gain a *_count companion.
package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/query"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// PageInfo is the REST pagination block.
type PageInfo struct {
	HasNextPage     bool   `json:"has_next_page"`
	HasPreviousPage bool   `json:"has_previous_page"`
	StartCursor     string `json:"start_cursor,omitempty"`
	EndCursor       string `json:"end_cursor,omitempty"`
}

// Result is a normalized response.
type Result struct {
	// Kind is the kind of the records, e.g. Variant for product variants.
	Kind    resource.Kind
	Records []resource.Record

	// PageInfo is nil for single lookups.
	PageInfo *PageInfo
}

// IDs returns the record ids in order.
func (r *Result) IDs() []int64 {
	ids := make([]int64, len(r.Records))
	for i, rec := range r.Records {
		ids[i] = rec.RecordID()
	}
	return ids
}

// MarshalJSON renders {"<plural>": [...], "meta": {...}}. meta is omitted for
// single lookups.
func (r Result) MarshalJSON() ([]byte, error) {
	records := r.Records
	if records == nil {
		records = []resource.Record{}
	}
	out := map[string]any{r.Kind.Plural(): records}
	if r.PageInfo != nil {
		out["meta"] = r.PageInfo
	}
	return json.Marshal(out)
}

// Decode parses a payload produced by MarshalJSON back into a Result of kind.
func Decode(kind resource.Kind, payload []byte) (*Result, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	raw, ok := env[kind.Plural()]
	if !ok {
		return nil, fmt.Errorf("decode result: missing %q", kind.Plural())
	}

	var (
		records []resource.Record
		err     error
	)
	switch kind {
	case resource.Product:
		records, err = decodeRecords[resource.ProductRecord](raw)
	case resource.Variant:
		records, err = decodeRecords[resource.VariantRecord](raw)
	case resource.Order:
		records, err = decodeRecords[resource.OrderRecord](raw)
	case resource.Customer:
		records, err = decodeRecords[resource.CustomerRecord](raw)
	case resource.Collection:
		records, err = decodeRecords[resource.CollectionRecord](raw)
	default:
		return nil, fmt.Errorf("decode result: unsupported kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind.Plural(), err)
	}

	res := &Result{Kind: kind, Records: records}
	if meta, ok := env["meta"]; ok && !rawNull(meta) {
		res.PageInfo = &PageInfo{}
		if err := json.Unmarshal(meta, res.PageInfo); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}
	return res, nil
}

func decodeRecords[T resource.Record](raw json.RawMessage) ([]resource.Record, error) {
	var typed []T
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, err
	}
	out := make([]resource.Record, len(typed))
	for i, t := range typed {
		out[i] = t
	}
	return out, nil
}

// Normalize flattens a raw GraphQL response envelope for plan.
//
// An errors array short-circuits into an upstream query error carrying the
// payload verbatim. A null single or parent lookup is a not-found error.
func Normalize(plan query.Plan, raw []byte) (*Result, error) {
	plan = plan.Normalized()

	var env struct {
		Data   json.RawMessage `json:"data"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, err, "decode upstream response")
	}
	if !rawNull(env.Errors) && string(env.Errors) != "[]" {
		return nil, apierr.FromGraphQL(env.Errors)
	}
	if rawNull(env.Data) {
		return nil, apierr.New(apierr.KindServer, "upstream response has no data")
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, apierr.Wrap(apierr.KindServer, err, "decode upstream data")
	}

	switch plan.Mode {
	case query.ModeList:
		records, page, err := connectionRecords(plan.Kind, 0, data[plan.Kind.Plural()])
		if err != nil {
			return nil, err
		}
		return &Result{Kind: plan.Kind, Records: records, PageInfo: page}, nil

	case query.ModeSingle:
		node := data[plan.Kind.Singular()]
		if rawNull(node) {
			return nil, apierr.New(apierr.KindNotFound, "%s %d not found", plan.Kind, plan.ID)
		}
		rec, err := singleRecord(plan.Kind, node)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: plan.Kind, Records: []resource.Record{rec}}, nil

	case query.ModeSub:
		sub, ok := resource.SubResource(plan.Kind, plan.Sub)
		if !ok {
			return nil, apierr.Validation("%s has no sub-resource %q", plan.Kind, plan.Sub)
		}
		parent := data[plan.Kind.Singular()]
		if rawNull(parent) {
			return nil, apierr.New(apierr.KindNotFound, "%s %d not found", plan.Kind, plan.ID)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(parent, &fields); err != nil {
			return nil, apierr.Wrap(apierr.KindServer, err, "decode "+plan.Kind.Singular())
		}
		records, page, err := connectionRecords(sub.Child, plan.ID, fields[sub.Name])
		if err != nil {
			return nil, err
		}
		return &Result{Kind: sub.Child, Records: records, PageInfo: page}, nil

	default:
		return nil, apierr.Validation("unsupported mode %q", plan.Mode)
	}
}

// connectionRecords flattens a connection of kind. parentID is set on
// records that carry their parent's id, such as variants.
func connectionRecords(kind resource.Kind, parentID int64, raw json.RawMessage) ([]resource.Record, *PageInfo, error) {
	if rawNull(raw) {
		return nil, nil, apierr.New(apierr.KindServer, "upstream response has no %s connection", kind.Plural())
	}

	switch kind {
	case resource.Product:
		return flatten(raw, func(n productNode) resource.Record { return n.record() })
	case resource.Variant:
		return flatten(raw, func(n variantNode) resource.Record { return n.record(parentID) })
	case resource.Order:
		return flatten(raw, func(n orderNode) resource.Record { return n.record() })
	case resource.Customer:
		return flatten(raw, func(n customerNode) resource.Record { return n.record() })
	case resource.Collection:
		return flatten(raw, func(n collectionNode) resource.Record { return n.record() })
	default:
		return nil, nil, apierr.New(apierr.KindInternal, "unsupported kind %q", kind)
	}
}

func flatten[N any](raw json.RawMessage, convert func(N) resource.Record) ([]resource.Record, *PageInfo, error) {
	var conn connection[N]
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, nil, apierr.Wrap(apierr.KindServer, err, "decode connection")
	}

	records := make([]resource.Record, 0, len(conn.Edges))
	for _, n := range conn.nodes() {
		records = append(records, convert(n))
	}

	page := &PageInfo{}
	if p := conn.PageInfo; p != nil {
		*page = PageInfo(*p)
	}
	return records, page, nil
}

func singleRecord(kind resource.Kind, raw json.RawMessage) (resource.Record, error) {
	var (
		rec resource.Record
		err error
	)
	switch kind {
	case resource.Product:
		rec, err = decodeNode(raw, productNode.record)
	case resource.Order:
		rec, err = decodeNode(raw, orderNode.record)
	case resource.Customer:
		rec, err = decodeNode(raw, customerNode.record)
	case resource.Collection:
		rec, err = decodeNode(raw, collectionNode.record)
	default:
		return nil, apierr.New(apierr.KindInternal, "unsupported kind %q", kind)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, err, "decode "+kind.Singular())
	}
	return rec, nil
}

func decodeNode[N any, R resource.Record](raw json.RawMessage, convert func(N) R) (resource.Record, error) {
	var n N
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return convert(n), nil
}
