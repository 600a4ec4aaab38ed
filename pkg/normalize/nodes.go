package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/gid"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// TagSeparator joins tag lists into the flat tags string.
const TagSeparator = ", "

// Upstream node shapes. Field names follow the Admin API; absent fields
// decode to zero values, absent connections and lists to nil.

type pageInfoNode struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor"`
	EndCursor       string `json:"endCursor"`
}

type connection[T any] struct {
	Edges []struct {
		Cursor string `json:"cursor"`
		Node   T      `json:"node"`
	} `json:"edges"`
	PageInfo *pageInfoNode `json:"pageInfo"`
}

func (c *connection[T]) nodes() []T {
	if c == nil {
		return nil
	}
	out := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		out = append(out, e.Node)
	}
	return out
}

// flexInt accepts JSON numbers and the quoted form used for UnsignedInt64.
type flexInt struct {
	Value int64
	Set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	f.Value, f.Set = n, true
	return nil
}

func (f flexInt) ptr() *int64 {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

type moneyBag struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"shopMoney"`
}

func (m *moneyBag) amount() string {
	if m == nil {
		return ""
	}
	return m.ShopMoney.Amount
}

type idRef struct {
	ID string `json:"id"`
}

func (r *idRef) numeric() int64 {
	if r == nil {
		return gid.Unresolvable
	}
	return gid.Numeric(r.ID)
}

type variantNode struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	Price             string `json:"price"`
	CompareAtPrice    string `json:"compareAtPrice"`
	Barcode           string `json:"barcode"`
	InventoryQuantity *int   `json:"inventoryQuantity"`
	Position          *int   `json:"position"`
	Taxable           *bool  `json:"taxable"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

func (n variantNode) record(productID int64) resource.VariantRecord {
	return resource.VariantRecord{
		ID:                gid.Numeric(n.ID),
		ProductID:         productID,
		Title:             n.Title,
		SKU:               n.SKU,
		Price:             n.Price,
		CompareAtPrice:    n.CompareAtPrice,
		Barcode:           n.Barcode,
		InventoryQuantity: n.InventoryQuantity,
		Position:          n.Position,
		Taxable:           n.Taxable,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

type imageNode struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	AltText string `json:"altText"`
	Width   *int   `json:"width"`
	Height  *int   `json:"height"`
}

func (n imageNode) record(productID int64) resource.Image {
	return resource.Image{
		ID:        gid.Numeric(n.ID),
		ProductID: productID,
		Src:       n.URL,
		Alt:       n.AltText,
		Width:     n.Width,
		Height:    n.Height,
	}
}

type optionNode struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position *int     `json:"position"`
	Values   []string `json:"values"`
}

type productNode struct {
	ID              string                   `json:"id"`
	Title           string                   `json:"title"`
	Handle          string                   `json:"handle"`
	DescriptionHTML string                   `json:"descriptionHtml"`
	Vendor          string                   `json:"vendor"`
	ProductType     string                   `json:"productType"`
	Status          string                   `json:"status"`
	Tags            []string                 `json:"tags"`
	CreatedAt       string                   `json:"createdAt"`
	UpdatedAt       string                   `json:"updatedAt"`
	PublishedAt     string                   `json:"publishedAt"`
	TotalInventory  *int                     `json:"totalInventory"`
	Variants        *connection[variantNode] `json:"variants"`
	Images          *connection[imageNode]   `json:"images"`
	Options         []optionNode             `json:"options"`
}

func (n productNode) record() resource.ProductRecord {
	id := gid.Numeric(n.ID)
	p := resource.ProductRecord{
		ID:             id,
		Title:          n.Title,
		Handle:         n.Handle,
		BodyHTML:       n.DescriptionHTML,
		Vendor:         n.Vendor,
		ProductType:    n.ProductType,
		Status:         enum(n.Status),
		Tags:           joinTags(n.Tags),
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
		PublishedAt:    n.PublishedAt,
		TotalInventory: n.TotalInventory,
	}

	if n.Variants != nil {
		p.Variants = []resource.VariantRecord{}
		for _, v := range n.Variants.nodes() {
			p.Variants = append(p.Variants, v.record(id))
		}
		p.VariantsCount = count(len(p.Variants))
	}
	if n.Images != nil {
		p.Images = []resource.Image{}
		for _, img := range n.Images.nodes() {
			p.Images = append(p.Images, img.record(id))
		}
		p.ImagesCount = count(len(p.Images))
	}
	for _, o := range n.Options {
		p.Options = append(p.Options, resource.Option{
			ID:        gid.Numeric(o.ID),
			ProductID: id,
			Name:      o.Name,
			Position:  o.Position,
			Values:    o.Values,
		})
	}
	return p
}

type addressNode struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Company       string `json:"company"`
	Address1      string `json:"address1"`
	Address2      string `json:"address2"`
	City          string `json:"city"`
	Province      string `json:"province"`
	ProvinceCode  string `json:"provinceCode"`
	Country       string `json:"country"`
	CountryCodeV2 string `json:"countryCodeV2"`
	Zip           string `json:"zip"`
	Phone         string `json:"phone"`
}

func (n *addressNode) record() *resource.Address {
	if n == nil {
		return nil
	}
	return &resource.Address{
		ID:           gid.Numeric(n.ID),
		FirstName:    n.FirstName,
		LastName:     n.LastName,
		Company:      n.Company,
		Address1:     n.Address1,
		Address2:     n.Address2,
		City:         n.City,
		Province:     n.Province,
		ProvinceCode: n.ProvinceCode,
		Country:      n.Country,
		CountryCode:  n.CountryCodeV2,
		Zip:          n.Zip,
		Phone:        n.Phone,
	}
}

type lineItemNode struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Quantity             *int      `json:"quantity"`
	SKU                  string    `json:"sku"`
	VariantTitle         string    `json:"variantTitle"`
	Vendor               string    `json:"vendor"`
	Variant              *idRef    `json:"variant"`
	Product              *idRef    `json:"product"`
	OriginalUnitPriceSet *moneyBag `json:"originalUnitPriceSet"`
}

type orderCustomerNode struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type orderNode struct {
	ID                       string                    `json:"id"`
	Name                     string                    `json:"name"`
	Email                    string                    `json:"email"`
	Phone                    string                    `json:"phone"`
	Note                     string                    `json:"note"`
	Tags                     []string                  `json:"tags"`
	CreatedAt                string                    `json:"createdAt"`
	UpdatedAt                string                    `json:"updatedAt"`
	ProcessedAt              string                    `json:"processedAt"`
	CancelledAt              string                    `json:"cancelledAt"`
	ClosedAt                 string                    `json:"closedAt"`
	DisplayFinancialStatus   string                    `json:"displayFinancialStatus"`
	DisplayFulfillmentStatus string                    `json:"displayFulfillmentStatus"`
	CurrencyCode             string                    `json:"currencyCode"`
	TotalPriceSet            *moneyBag                 `json:"totalPriceSet"`
	SubtotalPriceSet         *moneyBag                 `json:"subtotalPriceSet"`
	TotalTaxSet              *moneyBag                 `json:"totalTaxSet"`
	TotalDiscountsSet        *moneyBag                 `json:"totalDiscountsSet"`
	Customer                 *orderCustomerNode        `json:"customer"`
	LineItems                *connection[lineItemNode] `json:"lineItems"`
	ShippingAddress          *addressNode              `json:"shippingAddress"`
	BillingAddress           *addressNode              `json:"billingAddress"`
}

func (n orderNode) record() resource.OrderRecord {
	o := resource.OrderRecord{
		ID:                gid.Numeric(n.ID),
		Name:              n.Name,
		Email:             n.Email,
		Phone:             n.Phone,
		Note:              n.Note,
		Tags:              joinTags(n.Tags),
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
		ProcessedAt:       n.ProcessedAt,
		CancelledAt:       n.CancelledAt,
		ClosedAt:          n.ClosedAt,
		FinancialStatus:   enum(n.DisplayFinancialStatus),
		FulfillmentStatus: enum(n.DisplayFulfillmentStatus),
		Currency:          n.CurrencyCode,
		TotalPrice:        n.TotalPriceSet.amount(),
		SubtotalPrice:     n.SubtotalPriceSet.amount(),
		TotalTax:          n.TotalTaxSet.amount(),
		TotalDiscounts:    n.TotalDiscountsSet.amount(),
		ShippingAddress:   n.ShippingAddress.record(),
		BillingAddress:    n.BillingAddress.record(),
	}

	if c := n.Customer; c != nil {
		o.Customer = &resource.OrderCustomer{
			ID:        gid.Numeric(c.ID),
			Email:     c.Email,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Phone:     c.Phone,
		}
	}

	if n.LineItems != nil {
		o.LineItems = []resource.LineItem{}
		for _, li := range n.LineItems.nodes() {
			o.LineItems = append(o.LineItems, resource.LineItem{
				ID:           gid.Numeric(li.ID),
				Title:        li.Title,
				Quantity:     li.Quantity,
				SKU:          li.SKU,
				VariantTitle: li.VariantTitle,
				Vendor:       li.Vendor,
				VariantID:    li.Variant.numeric(),
				ProductID:    li.Product.numeric(),
				Price:        li.OriginalUnitPriceSet.amount(),
			})
		}
		o.LineItemsCount = count(len(o.LineItems))
	}
	return o
}

type amountNode struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type customerNode struct {
	ID             string        `json:"id"`
	FirstName      string        `json:"firstName"`
	LastName       string        `json:"lastName"`
	Email          string        `json:"email"`
	Phone          string        `json:"phone"`
	State          string        `json:"state"`
	Note           string        `json:"note"`
	Tags           []string      `json:"tags"`
	VerifiedEmail  *bool         `json:"verifiedEmail"`
	NumberOfOrders flexInt       `json:"numberOfOrders"`
	AmountSpent    *amountNode   `json:"amountSpent"`
	CreatedAt      string        `json:"createdAt"`
	UpdatedAt      string        `json:"updatedAt"`
	Addresses      []addressNode `json:"addresses"`
	DefaultAddress *addressNode  `json:"defaultAddress"`
}

func (n customerNode) record() resource.CustomerRecord {
	c := resource.CustomerRecord{
		ID:             gid.Numeric(n.ID),
		FirstName:      n.FirstName,
		LastName:       n.LastName,
		Email:          n.Email,
		Phone:          n.Phone,
		State:          enum(n.State),
		Note:           n.Note,
		Tags:           joinTags(n.Tags),
		VerifiedEmail:  n.VerifiedEmail,
		OrdersCount:    n.NumberOfOrders.ptr(),
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
		DefaultAddress: n.DefaultAddress.record(),
	}
	if n.AmountSpent != nil {
		c.TotalSpent = n.AmountSpent.Amount
		c.Currency = n.AmountSpent.CurrencyCode
	}
	if n.Addresses != nil {
		c.Addresses = []resource.Address{}
		for i := range n.Addresses {
			c.Addresses = append(c.Addresses, *n.Addresses[i].record())
		}
		c.AddressesCount = count(len(c.Addresses))
	}
	return c
}

type collectionNode struct {
	ID              string                   `json:"id"`
	Title           string                   `json:"title"`
	Handle          string                   `json:"handle"`
	DescriptionHTML string                   `json:"descriptionHtml"`
	SortOrder       string                   `json:"sortOrder"`
	TemplateSuffix  string                   `json:"templateSuffix"`
	UpdatedAt       string                   `json:"updatedAt"`
	ProductsCount   *struct{ Count int }     `json:"productsCount"`
	Image           *imageNode               `json:"image"`
	Products        *connection[productNode] `json:"products"`
}

func (n collectionNode) record() resource.CollectionRecord {
	c := resource.CollectionRecord{
		ID:             gid.Numeric(n.ID),
		Title:          n.Title,
		Handle:         n.Handle,
		BodyHTML:       n.DescriptionHTML,
		SortOrder:      enum(n.SortOrder),
		TemplateSuffix: n.TemplateSuffix,
		UpdatedAt:      n.UpdatedAt,
	}
	if n.Image != nil {
		img := n.Image.record(0)
		c.Image = &img
	}
	if n.Products != nil {
		c.Products = []resource.ProductRecord{}
		for _, p := range n.Products.nodes() {
			c.Products = append(c.Products, p.record())
		}
		c.ProductsCount = count(len(c.Products))
	}
	// The upstream total wins over the length of the selected page.
	if n.ProductsCount != nil {
		c.ProductsCount = count(n.ProductsCount.Count)
	}
	return c
}

// enum lower-cases upstream enum values: ACTIVE becomes active.
func enum(s string) string {
	return strings.ToLower(s)
}

// joinTags returns nil when tags were not selected.
func joinTags(tags []string) *string {
	if tags == nil {
		return nil
	}
	s := strings.Join(tags, TagSeparator)
	return &s
}

func count(n int) *int {
	return &n
}

// rawNull reports whether raw is absent or JSON null.
func rawNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
