// Package resource names the commerce entities the bridge reads and defines
// the flat records returned to REST callers.
package resource

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/gid"
)

// Kind identifies a resource or sub-entity.
type Kind string

const (
	Product    Kind = "product"
	Order      Kind = "order"
	Customer   Kind = "customer"
	Collection Kind = "collection"

	// Variant is only reachable as the variants sub-resource of a product.
	Variant Kind = "variant"
)

// Kinds returns the top-level resource kinds in a stable order.
func Kinds() []Kind {
	return []Kind{Product, Order, Customer, Collection}
}

// ParseKind accepts singular or plural names, case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if s == string(k) || s == k.Plural() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Plural is the list root field and the REST collection name.
func (k Kind) Plural() string {
	return string(k) + "s"
}

// Singular is the single-item root field.
func (k Kind) Singular() string {
	return string(k)
}

// TypeName is the upstream GraphQL type, also used in global ids.
func (k Kind) TypeName() string {
	switch k {
	case Product:
		return gid.KindProduct
	case Order:
		return gid.KindOrder
	case Customer:
		return gid.KindCustomer
	case Collection:
		return gid.KindCollection
	case Variant:
		return gid.KindProductVariant
	default:
		return ""
	}
}

// GlobalID encodes a numeric id of this kind.
func (k Kind) GlobalID(id int64) string {
	return gid.Encode(k.TypeName(), id)
}

// Sub describes a nested connection reachable from a single parent.
type Sub struct {
	Parent Kind
	Name   string // connection field, also the REST collection name
	Child  Kind
}

var subs = []Sub{
	{Parent: Product, Name: "variants", Child: Variant},
	{Parent: Collection, Name: "products", Child: Product},
}

// SubResource looks up the sub-resource name under parent.
func SubResource(parent Kind, name string) (Sub, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range subs {
		if s.Parent == parent && s.Name == name {
			return s, true
		}
	}
	return Sub{}, false
}
