package query

import (
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// Nested page sizes for large connections selected inside a record.
const (
	NestedVariantsLimit  = 100
	NestedImagesLimit    = 50
	NestedLineItemsLimit = 100
	NestedProductsLimit  = 50
	NestedAddressesLimit = 50
)

// fieldDef is one selectable field of a kind. Flat is the name REST callers
// use; the upstream name of Field is accepted as well.
type fieldDef struct {
	Flat  string
	Field Field
	Large bool
}

func scalar(flat, name string) fieldDef {
	return fieldDef{Flat: flat, Field: Field{Name: name}}
}

func nested(flat string, f Field) fieldDef {
	return fieldDef{Flat: flat, Field: f}
}

func large(flat string, f Field) fieldDef {
	return fieldDef{Flat: flat, Field: f, Large: true}
}

func first(n int) []Arg {
	return []Arg{{Name: "first", Value: n}}
}

var (
	moneyFields   = []Field{F("shopMoney", Leaves("amount", "currencyCode")...)}
	imageFields   = Leaves("id", "url", "altText", "width", "height")
	addressFields = Leaves("id", "firstName", "lastName", "company", "address1", "address2",
		"city", "province", "provinceCode", "country", "countryCodeV2", "zip", "phone")
)

var variantCatalog = []fieldDef{
	scalar("id", "id"),
	scalar("title", "title"),
	scalar("sku", "sku"),
	scalar("price", "price"),
	scalar("compare_at_price", "compareAtPrice"),
	scalar("barcode", "barcode"),
	scalar("inventory_quantity", "inventoryQuantity"),
	scalar("position", "position"),
	scalar("taxable", "taxable"),
	scalar("created_at", "createdAt"),
	scalar("updated_at", "updatedAt"),
}

var productCatalog = []fieldDef{
	scalar("id", "id"),
	scalar("title", "title"),
	scalar("handle", "handle"),
	scalar("vendor", "vendor"),
	scalar("product_type", "productType"),
	scalar("status", "status"),
	scalar("tags", "tags"),
	scalar("created_at", "createdAt"),
	scalar("updated_at", "updatedAt"),
	scalar("published_at", "publishedAt"),
	scalar("total_inventory", "totalInventory"),
	large("body_html", F("descriptionHtml")),
	large("variants", Connection("variants", first(NestedVariantsLimit), selectAll(variantCatalog), false)),
	large("images", Connection("images", first(NestedImagesLimit), imageFields, false)),
	large("options", F("options", Leaves("id", "name", "position", "values")...)),
}

var orderCatalog = []fieldDef{
	scalar("id", "id"),
	scalar("name", "name"),
	scalar("email", "email"),
	scalar("phone", "phone"),
	scalar("note", "note"),
	scalar("tags", "tags"),
	scalar("created_at", "createdAt"),
	scalar("updated_at", "updatedAt"),
	scalar("processed_at", "processedAt"),
	scalar("cancelled_at", "cancelledAt"),
	scalar("closed_at", "closedAt"),
	scalar("financial_status", "displayFinancialStatus"),
	scalar("fulfillment_status", "displayFulfillmentStatus"),
	scalar("currency", "currencyCode"),
	nested("total_price", F("totalPriceSet", moneyFields...)),
	nested("subtotal_price", F("subtotalPriceSet", moneyFields...)),
	nested("total_tax", F("totalTaxSet", moneyFields...)),
	nested("total_discounts", F("totalDiscountsSet", moneyFields...)),
	large("customer", F("customer", Leaves("id", "email", "firstName", "lastName", "phone")...)),
	large("line_items", Connection("lineItems", first(NestedLineItemsLimit), []Field{
		F("id"), F("title"), F("quantity"), F("sku"), F("variantTitle"), F("vendor"),
		F("variant", F("id")),
		F("product", F("id")),
		F("originalUnitPriceSet", moneyFields...),
	}, false)),
	large("shipping_address", F("shippingAddress", addressFields...)),
	large("billing_address", F("billingAddress", addressFields...)),
}

var customerCatalog = []fieldDef{
	scalar("id", "id"),
	scalar("first_name", "firstName"),
	scalar("last_name", "lastName"),
	scalar("email", "email"),
	scalar("phone", "phone"),
	scalar("state", "state"),
	scalar("note", "note"),
	scalar("tags", "tags"),
	scalar("verified_email", "verifiedEmail"),
	scalar("orders_count", "numberOfOrders"),
	nested("total_spent", F("amountSpent", Leaves("amount", "currencyCode")...)),
	scalar("created_at", "createdAt"),
	scalar("updated_at", "updatedAt"),
	large("addresses", Field{Name: "addresses", Args: first(NestedAddressesLimit), Selection: addressFields}),
	large("default_address", F("defaultAddress", addressFields...)),
}

var collectionCatalog = []fieldDef{
	scalar("id", "id"),
	scalar("title", "title"),
	scalar("handle", "handle"),
	scalar("updated_at", "updatedAt"),
	scalar("sort_order", "sortOrder"),
	scalar("template_suffix", "templateSuffix"),
	nested("products_count", F("productsCount", F("count"))),
	large("body_html", F("descriptionHtml")),
	large("image", F("image", imageFields...)),
	large("products", Connection("products", first(NestedProductsLimit), selectDefaults(productCatalog), false)),
}

func catalogFor(kind resource.Kind) ([]fieldDef, bool) {
	switch kind {
	case resource.Product:
		return productCatalog, true
	case resource.Order:
		return orderCatalog, true
	case resource.Customer:
		return customerCatalog, true
	case resource.Collection:
		return collectionCatalog, true
	case resource.Variant:
		return variantCatalog, true
	default:
		return nil, false
	}
}

func selectAll(defs []fieldDef) []Field {
	out := make([]Field, len(defs))
	for i, d := range defs {
		out[i] = d.Field
	}
	return out
}

func selectDefaults(defs []fieldDef) []Field {
	var out []Field
	for _, d := range defs {
		if !d.Large {
			out = append(out, d.Field)
		}
	}
	return out
}

// resolveFields picks the selection for a kind in catalog order.
//
// Empty requested selects every default field. Otherwise the defaults are
// narrowed to the requested names, and large fields are added when named or
// when includeLarge is set. id is always selected.
func resolveFields(defs []fieldDef, requested []string, includeLarge bool) []Field {
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		r = strings.TrimSpace(r)
		if r != "" {
			want[strings.ToLower(r)] = true
		}
	}

	var out []Field
	for _, d := range defs {
		named := want[d.Flat] || want[strings.ToLower(d.Field.Name)]
		switch {
		case d.Flat == "id":
			out = append(out, d.Field)
		case d.Large:
			if includeLarge || named {
				out = append(out, d.Field)
			}
		case len(want) == 0 || named:
			out = append(out, d.Field)
		}
	}
	return out
}

// KnownField reports whether name is selectable on kind, in flat or upstream
// spelling.
func KnownField(kind resource.Kind, name string) bool {
	defs, ok := catalogFor(kind)
	if !ok {
		return false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range defs {
		if d.Flat == name || strings.ToLower(d.Field.Name) == name {
			return true
		}
	}
	return false
}
