package normalize

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/query"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

func ptr[T any](v T) *T { return &v }

func TestNormalize_ProductsList(t *testing.T) {
	raw := []byte(`{"data":{"products":{
		"edges":[
			{"cursor":"c1","node":{"id":"gid://shopify/Product/10","title":"Shirt","productType":"Apparel","status":"ACTIVE","tags":["summer","sale"]}},
			{"cursor":"c2","node":{"id":"gid://shopify/Product/11","title":"Hat","status":"DRAFT","tags":[]}}
		],
		"pageInfo":{"hasNextPage":true,"hasPreviousPage":false,"startCursor":"c1","endCursor":"c2"}}}}`)

	res, err := Normalize(query.Plan{Kind: resource.Product, Mode: query.ModeList, Limit: 2}, raw)
	require.NoError(t, err)

	want := []resource.Record{
		resource.ProductRecord{ID: 10, Title: "Shirt", ProductType: "Apparel", Status: "active", Tags: ptr("summer, sale")},
		resource.ProductRecord{ID: 11, Title: "Hat", Status: "draft", Tags: ptr("")},
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int64{10, 11}, res.IDs())
	assert.Equal(t, &PageInfo{HasNextPage: true, StartCursor: "c1", EndCursor: "c2"}, res.PageInfo)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"products":[
			{"id":10,"title":"Shirt","product_type":"Apparel","status":"active","tags":"summer, sale"},
			{"id":11,"title":"Hat","status":"draft","tags":""}
		],
		"meta":{"has_next_page":true,"has_previous_page":false,"start_cursor":"c1","end_cursor":"c2"}}`, string(out))
}

func TestNormalize_ProductNestedCollections(t *testing.T) {
	raw := []byte(`{"data":{"product":{
		"id":"gid://shopify/Product/10",
		"variants":{"edges":[
			{"node":{"id":"gid://shopify/ProductVariant/100","sku":"S-1","price":"19.99","inventoryQuantity":4}},
			{"node":{"id":"gid://shopify/ProductVariant/101","sku":"S-2","price":"21.00","compareAtPrice":null}}
		]},
		"images":{"edges":[{"node":{"id":"gid://shopify/ProductImage/7","url":"https://cdn/x.png","altText":"front","width":800}}]},
		"options":[{"id":"gid://shopify/ProductOption/3","name":"Size","position":1,"values":["S","M"]}]
	}}}`)

	res, err := Normalize(query.Plan{Kind: resource.Product, Mode: query.ModeSingle, ID: 10}, raw)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Nil(t, res.PageInfo)

	want := resource.ProductRecord{
		ID: 10,
		Variants: []resource.VariantRecord{
			{ID: 100, ProductID: 10, SKU: "S-1", Price: "19.99", InventoryQuantity: ptr(4)},
			{ID: 101, ProductID: 10, SKU: "S-2", Price: "21.00"},
		},
		VariantsCount: ptr(2),
		Images:        []resource.Image{{ID: 7, ProductID: 10, Src: "https://cdn/x.png", Alt: "front", Width: ptr(800)}},
		ImagesCount:   ptr(1),
		Options:       []resource.Option{{ID: 3, ProductID: 10, Name: "Size", Position: ptr(1), Values: []string{"S", "M"}}},
	}
	if diff := cmp.Diff(want, res.Records[0]); diff != "" {
		t.Errorf("product mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_Order(t *testing.T) {
	raw := []byte(`{"data":{"order":{
		"id":"gid://shopify/Order/500",
		"name":"#1001",
		"displayFinancialStatus":"PARTIALLY_REFUNDED",
		"displayFulfillmentStatus":"UNFULFILLED",
		"currencyCode":"EUR",
		"tags":["vip"],
		"totalPriceSet":{"shopMoney":{"amount":"99.50","currencyCode":"EUR"}},
		"customer":{"id":"gid://shopify/Customer/42","email":"jane@example.com","firstName":"Jane"},
		"lineItems":{"edges":[{"node":{
			"id":"gid://shopify/LineItem/9","title":"Shirt","quantity":2,
			"variant":{"id":"gid://shopify/ProductVariant/100"},
			"product":{"id":"gid://shopify/Product/10"},
			"originalUnitPriceSet":{"shopMoney":{"amount":"49.75","currencyCode":"EUR"}}}}]},
		"shippingAddress":{"id":"gid://shopify/MailingAddress/7?model_name=Address","city":"Berlin","countryCodeV2":"DE"},
		"billingAddress":null
	}}}`)

	res, err := Normalize(query.Plan{Kind: resource.Order, Mode: query.ModeSingle, ID: 500}, raw)
	require.NoError(t, err)

	want := resource.OrderRecord{
		ID:                500,
		Name:              "#1001",
		FinancialStatus:   "partially_refunded",
		FulfillmentStatus: "unfulfilled",
		Currency:          "EUR",
		Tags:              ptr("vip"),
		TotalPrice:        "99.50",
		Customer:          &resource.OrderCustomer{ID: 42, Email: "jane@example.com", FirstName: "Jane"},
		LineItems: []resource.LineItem{{
			ID: 9, Title: "Shirt", Quantity: ptr(2), VariantID: 100, ProductID: 10, Price: "49.75",
		}},
		LineItemsCount:  ptr(1),
		ShippingAddress: &resource.Address{ID: 7, City: "Berlin", CountryCode: "DE"},
	}
	if diff := cmp.Diff(want, res.Records[0]); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_Customer(t *testing.T) {
	raw := []byte(`{"data":{"customers":{"edges":[{"node":{
		"id":"gid://shopify/Customer/42","state":"ENABLED","numberOfOrders":"12",
		"amountSpent":{"amount":"310.00","currencyCode":"USD"},
		"addresses":[{"id":"gid://shopify/MailingAddress/1?model_name=CustomerAddress","city":"Austin"}]
	}}],"pageInfo":{"hasNextPage":false,"hasPreviousPage":true}}}}`)

	res, err := Normalize(query.Plan{Kind: resource.Customer}, raw)
	require.NoError(t, err)

	want := resource.CustomerRecord{
		ID:             42,
		State:          "enabled",
		OrdersCount:    ptr(int64(12)),
		TotalSpent:     "310.00",
		Currency:       "USD",
		Addresses:      []resource.Address{{ID: 1, City: "Austin"}},
		AddressesCount: ptr(1),
	}
	if diff := cmp.Diff(want, res.Records[0]); diff != "" {
		t.Errorf("customer mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, res.PageInfo.HasPreviousPage)
}

func TestNormalize_Collection(t *testing.T) {
	raw := []byte(`{"data":{"collection":{
		"id":"gid://shopify/Collection/3","title":"Summer","sortOrder":"BEST_SELLING",
		"productsCount":{"count":57},
		"image":{"id":"gid://shopify/CollectionImage/8","url":"https://cdn/c.png"},
		"products":{"edges":[{"node":{"id":"gid://shopify/Product/10"}}]}
	}}}`)

	res, err := Normalize(query.Plan{Kind: resource.Collection, Mode: query.ModeSingle, ID: 3}, raw)
	require.NoError(t, err)

	c := res.Records[0].(resource.CollectionRecord)
	assert.Equal(t, "best_selling", c.SortOrder)
	assert.Equal(t, 57, *c.ProductsCount, "upstream total wins over the page length")
	require.NotNil(t, c.Image)
	assert.Equal(t, int64(8), c.Image.ID)
	require.Len(t, c.Products, 1)
	assert.Equal(t, int64(10), c.Products[0].ID)
}

func TestNormalize_SubResource(t *testing.T) {
	raw := []byte(`{"data":{"product":{"id":"gid://shopify/Product/10","variants":{
		"edges":[{"cursor":"v1","node":{"id":"gid://shopify/ProductVariant/100","title":"Small"}}],
		"pageInfo":{"hasNextPage":false,"hasPreviousPage":false,"startCursor":"v1","endCursor":"v1"}}}}}`)

	res, err := Normalize(query.Plan{Kind: resource.Product, Mode: query.ModeSub, ID: 10, Sub: "variants"}, raw)
	require.NoError(t, err)

	assert.Equal(t, resource.Variant, res.Kind)
	want := []resource.Record{resource.VariantRecord{ID: 100, ProductID: 10, Title: "Small"}}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("variants mismatch (-want +got):\n%s", diff)
	}

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"variants":[`)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name     string
		plan     query.Plan
		raw      string
		wantKind apierr.Kind
	}{
		{
			name:     "upstream errors",
			plan:     query.Plan{Kind: resource.Product},
			raw:      `{"errors":[{"message":"Field 'nope' doesn't exist on type 'Product'"}],"data":null}`,
			wantKind: apierr.KindUpstreamQuery,
		},
		{
			name:     "errors next to data",
			plan:     query.Plan{Kind: resource.Product},
			raw:      `{"errors":[{"message":"partial"}],"data":{"products":{"edges":[]}}}`,
			wantKind: apierr.KindUpstreamQuery,
		},
		{
			name:     "single not found",
			plan:     query.Plan{Kind: resource.Order, Mode: query.ModeSingle, ID: 9},
			raw:      `{"data":{"order":null}}`,
			wantKind: apierr.KindNotFound,
		},
		{
			name:     "sub parent not found",
			plan:     query.Plan{Kind: resource.Collection, Mode: query.ModeSub, ID: 9, Sub: "products"},
			raw:      `{"data":{"collection":null}}`,
			wantKind: apierr.KindNotFound,
		},
		{
			name:     "no data",
			plan:     query.Plan{Kind: resource.Product},
			raw:      `{}`,
			wantKind: apierr.KindServer,
		},
		{
			name:     "missing connection",
			plan:     query.Plan{Kind: resource.Product},
			raw:      `{"data":{"orders":{"edges":[]}}}`,
			wantKind: apierr.KindServer,
		},
		{
			name:     "not json",
			plan:     query.Plan{Kind: resource.Product},
			raw:      `<html>`,
			wantKind: apierr.KindServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.plan, []byte(tt.raw))
			assert.Equal(t, tt.wantKind, apierr.KindOf(err))
		})
	}
}

func TestNormalize_ErrorsPayloadVerbatim(t *testing.T) {
	payload := `[{"message":"Throttled","extensions":{"code":"THROTTLED","documentation":"https://shopify.dev"}}]`
	_, err := Normalize(query.Plan{Kind: resource.Product}, []byte(`{"errors":`+payload+`}`))

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.JSONEq(t, payload, string(apiErr.RawUpstream))
}

// Every kind recovers the numeric id that was encoded into its global id.
func TestNormalize_IDRoundTrip(t *testing.T) {
	ids := []int64{1, 10, 450789469, 9007199254740993}

	for _, kind := range resource.Kinds() {
		for _, id := range ids {
			raw := fmt.Sprintf(`{"data":{%q:{"id":%q}}}`, kind.Singular(), kind.GlobalID(id))
			res, err := Normalize(query.Plan{Kind: kind, Mode: query.ModeSingle, ID: id}, []byte(raw))
			require.NoError(t, err, "%s %d", kind, id)
			assert.Equal(t, id, res.Records[0].RecordID(), "%s %d", kind, id)
		}
	}
}

func TestDecode(t *testing.T) {
	res := &Result{
		Kind: resource.Order,
		Records: []resource.Record{
			resource.OrderRecord{ID: 1, Name: "#1", Tags: ptr("a, b"), LineItemsCount: ptr(0), LineItems: []resource.LineItem{}},
			resource.OrderRecord{ID: 2, FinancialStatus: "paid"},
		},
		PageInfo: &PageInfo{HasNextPage: true, EndCursor: "xyz"},
	}

	payload, err := json.Marshal(res)
	require.NoError(t, err)

	got, err := Decode(resource.Order, payload)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got.IDs())
	assert.Equal(t, res.PageInfo, got.PageInfo)
	assert.Equal(t, "paid", got.Records[1].(resource.OrderRecord).FinancialStatus)

	single, err := Decode(resource.Product, []byte(`{"products":[{"id":5}]}`))
	require.NoError(t, err)
	assert.Nil(t, single.PageInfo)
	assert.Equal(t, []int64{5}, single.IDs())

	_, err = Decode(resource.Product, []byte(`{"orders":[]}`))
	assert.Error(t, err)
}

func TestResult_MarshalEmpty(t *testing.T) {
	out, err := json.Marshal(&Result{Kind: resource.Customer, PageInfo: &PageInfo{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"customers":[],"meta":{"has_next_page":false,"has_previous_page":false}}`, string(out))
}
