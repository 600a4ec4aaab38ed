// Package gid converts between Shopify global ids ("gid://shopify/Product/10")
// and the plain numeric ids exposed to REST callers.
package gid

import (
	"strconv"
	"strings"
)

// Namespace is the scheme prefix of every Admin API global id.
const Namespace = "gid://shopify/"

// Unresolvable is returned for input that does not carry a positive numeric id.
// Shopify never issues id 0, so the value is unambiguous.
const Unresolvable int64 = 0

// Upstream type names of the entities the bridge reads.
const (
	KindProduct         = "Product"
	KindProductVariant  = "ProductVariant"
	KindProductImage    = "ProductImage"
	KindOrder           = "Order"
	KindLineItem        = "LineItem"
	KindCustomer        = "Customer"
	KindMailingAddress  = "MailingAddress"
	KindCollection      = "Collection"
	KindProductOption   = "ProductOption"
	KindInventoryItem   = "InventoryItem"
	KindCollectionImage = "CollectionImage"
)

// ID is a parsed global id.
type ID struct {
	Kind    string
	Numeric int64
}

// Valid reports whether the id resolved to a numeric value.
func (id ID) Valid() bool {
	return id.Numeric != Unresolvable
}

// String renders the id back into its global form.
func (id ID) String() string {
	return Encode(id.Kind, id.Numeric)
}

// Parse splits a global id into its kind and numeric part. Malformed input
// yields an ID whose Numeric is Unresolvable; Parse never fails.
//
// Accepted forms:
//
//	gid://shopify/Product/10
//	gid://shopify/MailingAddress/7?model_name=CustomerAddress
//	10 (bare numeric, kind left empty)
func Parse(s string) ID {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}
	}

	if !strings.HasPrefix(s, Namespace) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return ID{}
		}
		return ID{Numeric: n}
	}

	rest := strings.TrimPrefix(s, Namespace)
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}

	kind, num, ok := strings.Cut(rest, "/")
	if !ok || kind == "" || strings.Contains(num, "/") {
		return ID{}
	}

	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return ID{Kind: kind}
	}

	return ID{Kind: kind, Numeric: n}
}

// Numeric returns the numeric part of a global id, or Unresolvable.
func Numeric(s string) int64 {
	return Parse(s).Numeric
}

// Encode builds the global id for kind and numeric id. Non-positive ids
// encode to the empty string.
func Encode(kind string, id int64) string {
	if id <= 0 || kind == "" {
		return ""
	}
	return Namespace + kind + "/" + strconv.FormatInt(id, 10)
}
