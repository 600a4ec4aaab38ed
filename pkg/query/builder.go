// Package query builds minimal Admin API GraphQL documents for a requested
// resource, field list, page and filter.
//
// Documents are assembled as a tree of Field values and rendered compactly,
// so identical plans always produce byte-identical text. Every rendered
// document can be checked against the embedded schema subset with Validate.
package query

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// Page size limits of the Admin API.
const (
	DefaultLimit = 50
	MaxLimit     = 250
)

// Mode selects the document shape.
type Mode string

const (
	ModeList   Mode = "list"
	ModeSingle Mode = "single"
	ModeSub    Mode = "sub"
)

// Plan is the immutable description of one upstream read.
type Plan struct {
	Kind   resource.Kind
	Mode   Mode
	ID     int64  // single and sub modes
	Sub    string // sub mode: "variants" or "products"
	Limit  int
	Cursor string
	Filter string   // upstream search syntax, see package filter
	Fields []string // requested field names, flat or upstream spelling
}

// Normalized returns a copy with the limit clamped into [1, MaxLimit] and the
// default applied.
func (p Plan) Normalized() Plan {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	if p.Mode == "" {
		p.Mode = ModeList
	}
	p.Sub = strings.ToLower(strings.TrimSpace(p.Sub))
	return p
}

// Operation names the read for cache keys, breaker names and metrics, e.g.
// "products.list", "product.get", "product.variants".
func (p Plan) Operation() string {
	switch p.Mode {
	case ModeSingle:
		return p.Kind.Singular() + ".get"
	case ModeSub:
		return p.Kind.Singular() + "." + strings.ToLower(p.Sub)
	default:
		return p.Kind.Plural() + ".list"
	}
}

// RecordKind is the kind of the records the plan yields.
func (p Plan) RecordKind() resource.Kind {
	if p.Mode == ModeSub {
		if sub, ok := resource.SubResource(p.Kind, p.Sub); ok {
			return sub.Child
		}
	}
	return p.Kind
}

// Document is a rendered query.
type Document struct {
	Name string // GraphQL operation name
	Text string
	Plan Plan
}

// Build renders the document for a plan.
func Build(p Plan) (Document, error) {
	p = p.Normalized()

	defs, ok := catalogFor(p.Kind)
	if !ok || p.Kind == resource.Variant {
		return Document{}, fmt.Errorf("unsupported resource kind %q", p.Kind)
	}

	var root Field
	switch p.Mode {
	case ModeList:
		root = Connection(p.Kind.Plural(), pageArgs(p), resolveFields(defs, p.Fields, false), true)

	case ModeSingle:
		if p.ID <= 0 {
			return Document{}, fmt.Errorf("%s lookup requires a positive id", p.Kind)
		}
		root = Field{
			Name:      p.Kind.Singular(),
			Args:      []Arg{{Name: "id", Value: p.Kind.GlobalID(p.ID)}},
			Selection: resolveFields(defs, p.Fields, true),
		}

	case ModeSub:
		if p.ID <= 0 {
			return Document{}, fmt.Errorf("%s %s lookup requires a positive id", p.Kind, p.Sub)
		}
		sub, ok := resource.SubResource(p.Kind, p.Sub)
		if !ok {
			return Document{}, fmt.Errorf("%s has no sub-resource %q", p.Kind, p.Sub)
		}
		childDefs, _ := catalogFor(sub.Child)
		root = Field{
			Name: p.Kind.Singular(),
			Args: []Arg{{Name: "id", Value: p.Kind.GlobalID(p.ID)}},
			Selection: []Field{
				F("id"),
				Connection(sub.Name, pageArgs(p), resolveFields(childDefs, p.Fields, false), true),
			},
		}

	default:
		return Document{}, fmt.Errorf("unsupported mode %q", p.Mode)
	}

	name := operationName(p)
	return Document{
		Name: name,
		Text: "query " + name + " " + Render([]Field{root}),
		Plan: p,
	}, nil
}

func pageArgs(p Plan) []Arg {
	args := []Arg{{Name: "first", Value: p.Limit}}
	if p.Cursor != "" {
		args = append(args, Arg{Name: "after", Value: p.Cursor})
	}
	if p.Filter != "" {
		args = append(args, Arg{Name: "query", Value: p.Filter})
	}
	return args
}

func operationName(p Plan) string {
	switch p.Mode {
	case ModeSingle:
		return exported(p.Kind.Singular()) + "Get"
	case ModeSub:
		return exported(p.Kind.Singular()) + exported(p.Sub)
	default:
		return exported(p.Kind.Plural()) + "List"
	}
}

func exported(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
