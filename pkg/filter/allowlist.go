package filter

import (
	"sort"
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

type fieldRule struct {
	upstream string
	ranged   bool // accepts >=, <= and the _min/_max passthrough forms

	// values rewrites caller values into the upstream vocabulary. Values
	// without an entry pass through unchanged.
	values map[string]string
}

// publishedValues maps the REST boolean onto the published_status search
// values.
var publishedValues = map[string]string{
	"true":  "published",
	"false": "unpublished",
}

// value translates a caller value for the upstream field.
func (r fieldRule) value(v string) string {
	if mapped, ok := r.values[strings.ToLower(v)]; ok {
		return mapped
	}
	return v
}

var allowLists = map[resource.Kind]map[string]fieldRule{
	resource.Product: {
		"vendor":           {upstream: "vendor"},
		"product_type":     {upstream: "product_type"},
		"status":           {upstream: "status"},
		"handle":           {upstream: "handle"},
		"published_status": {upstream: "published_status"},
		"created_at":       {upstream: "created_at", ranged: true},
		"updated_at":       {upstream: "updated_at", ranged: true},
		"published_at":     {upstream: "published_at", ranged: true},
	},
	resource.Order: {
		"financial_status":   {upstream: "financial_status"},
		"fulfillment_status": {upstream: "fulfillment_status"},
		"status":             {upstream: "status"},
		"created_at":         {upstream: "created_at", ranged: true},
		"updated_at":         {upstream: "updated_at", ranged: true},
		"processed_at":       {upstream: "processed_at", ranged: true},
	},
	resource.Customer: {
		"email":      {upstream: "email"},
		"phone":      {upstream: "phone"},
		"state":      {upstream: "state"},
		"created_at": {upstream: "created_at", ranged: true},
		"updated_at": {upstream: "updated_at", ranged: true},
	},
	resource.Collection: {
		"title":            {upstream: "title"},
		"handle":           {upstream: "handle"},
		"published":        {upstream: "published_status", values: publishedValues},
		"published_status": {upstream: "published_status"},
		"collection_type":  {upstream: "collection_type"},
		"updated_at":       {upstream: "updated_at", ranged: true},
	},
}

func allowList(kind resource.Kind) map[string]fieldRule {
	return allowLists[kind]
}

// allowedFields lists the filterable fields of kind in sorted order.
func allowedFields(kind resource.Kind) []string {
	fields := make([]string, 0, len(allowLists[kind]))
	for name := range allowLists[kind] {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}
