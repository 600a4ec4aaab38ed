package resource

// Record is a flattened entity. Ids are plain numbers, field names follow the
// REST snake_case convention, and optional sub-collections are present only
// when they were selected.
type Record interface {
	RecordID() int64
}

// ProductRecord is the flat product record.
type ProductRecord struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title,omitempty"`
	Handle         string          `json:"handle,omitempty"`
	BodyHTML       string          `json:"body_html,omitempty"`
	Vendor         string          `json:"vendor,omitempty"`
	ProductType    string          `json:"product_type,omitempty"`
	Status         string          `json:"status,omitempty"`
	Tags           *string         `json:"tags,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
	PublishedAt    string          `json:"published_at,omitempty"`
	TotalInventory *int            `json:"total_inventory,omitempty"`
	Variants       []VariantRecord `json:"variants,omitempty"`
	VariantsCount  *int            `json:"variants_count,omitempty"`
	Images         []Image         `json:"images,omitempty"`
	ImagesCount    *int            `json:"images_count,omitempty"`
	Options        []Option        `json:"options,omitempty"`
}

func (p ProductRecord) RecordID() int64 { return p.ID }

// VariantRecord is a product variant.
type VariantRecord struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"product_id,omitempty"`
	Title             string `json:"title,omitempty"`
	SKU               string `json:"sku,omitempty"`
	Price             string `json:"price,omitempty"`
	CompareAtPrice    string `json:"compare_at_price,omitempty"`
	Barcode           string `json:"barcode,omitempty"`
	InventoryQuantity *int   `json:"inventory_quantity,omitempty"`
	Position          *int   `json:"position,omitempty"`
	Taxable           *bool  `json:"taxable,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

func (v VariantRecord) RecordID() int64 { return v.ID }

// Image is a product or collection image.
type Image struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id,omitempty"`
	Src       string `json:"src,omitempty"`
	Alt       string `json:"alt,omitempty"`
	Width     *int   `json:"width,omitempty"`
	Height    *int   `json:"height,omitempty"`
}

// Option is a product option such as size or color.
type Option struct {
	ID        int64    `json:"id"`
	ProductID int64    `json:"product_id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Position  *int     `json:"position,omitempty"`
	Values    []string `json:"values,omitempty"`
}

// OrderRecord is the flat order record.
type OrderRecord struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name,omitempty"`
	Email             string         `json:"email,omitempty"`
	Phone             string         `json:"phone,omitempty"`
	Note              string         `json:"note,omitempty"`
	Tags              *string        `json:"tags,omitempty"`
	CreatedAt         string         `json:"created_at,omitempty"`
	UpdatedAt         string         `json:"updated_at,omitempty"`
	ProcessedAt       string         `json:"processed_at,omitempty"`
	CancelledAt       string         `json:"cancelled_at,omitempty"`
	ClosedAt          string         `json:"closed_at,omitempty"`
	FinancialStatus   string         `json:"financial_status,omitempty"`
	FulfillmentStatus string         `json:"fulfillment_status,omitempty"`
	Currency          string         `json:"currency,omitempty"`
	TotalPrice        string         `json:"total_price,omitempty"`
	SubtotalPrice     string         `json:"subtotal_price,omitempty"`
	TotalTax          string         `json:"total_tax,omitempty"`
	TotalDiscounts    string         `json:"total_discounts,omitempty"`
	Customer          *OrderCustomer `json:"customer,omitempty"`
	LineItems         []LineItem     `json:"line_items,omitempty"`
	LineItemsCount    *int           `json:"line_items_count,omitempty"`
	ShippingAddress   *Address       `json:"shipping_address,omitempty"`
	BillingAddress    *Address       `json:"billing_address,omitempty"`
}

func (o OrderRecord) RecordID() int64 { return o.ID }

// OrderCustomer is the customer embedded in an order.
type OrderCustomer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// LineItem is an order line.
type LineItem struct {
	ID           int64  `json:"id"`
	Title        string `json:"title,omitempty"`
	Quantity     *int   `json:"quantity,omitempty"`
	SKU          string `json:"sku,omitempty"`
	VariantTitle string `json:"variant_title,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
	VariantID    int64  `json:"variant_id,omitempty"`
	ProductID    int64  `json:"product_id,omitempty"`
	Price        string `json:"price,omitempty"`
}

// Address is a mailing address on an order or customer.
type Address struct {
	ID           int64  `json:"id,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Company      string `json:"company,omitempty"`
	Address1     string `json:"address1,omitempty"`
	Address2     string `json:"address2,omitempty"`
	City         string `json:"city,omitempty"`
	Province     string `json:"province,omitempty"`
	ProvinceCode string `json:"province_code,omitempty"`
	Country      string `json:"country,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	Zip          string `json:"zip,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// CustomerRecord is the flat customer record.
type CustomerRecord struct {
	ID             int64     `json:"id"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	State          string    `json:"state,omitempty"`
	Note           string    `json:"note,omitempty"`
	Tags           *string   `json:"tags,omitempty"`
	VerifiedEmail  *bool     `json:"verified_email,omitempty"`
	OrdersCount    *int64    `json:"orders_count,omitempty"`
	TotalSpent     string    `json:"total_spent,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	CreatedAt      string    `json:"created_at,omitempty"`
	UpdatedAt      string    `json:"updated_at,omitempty"`
	Addresses      []Address `json:"addresses,omitempty"`
	AddressesCount *int      `json:"addresses_count,omitempty"`
	DefaultAddress *Address  `json:"default_address,omitempty"`
}

func (c CustomerRecord) RecordID() int64 { return c.ID }

// CollectionRecord is the flat collection record.
type CollectionRecord struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title,omitempty"`
	Handle         string          `json:"handle,omitempty"`
	BodyHTML       string          `json:"body_html,omitempty"`
	SortOrder      string          `json:"sort_order,omitempty"`
	TemplateSuffix string          `json:"template_suffix,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
	ProductsCount  *int            `json:"products_count,omitempty"`
	Image          *Image          `json:"image,omitempty"`
	Products       []ProductRecord `json:"products,omitempty"`
}

func (c CollectionRecord) RecordID() int64 { return c.ID }
