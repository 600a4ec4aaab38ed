package resource

import "testing"

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{input: "products", want: Product},
		{input: "Product", want: Product},
		{input: " orders ", want: Order},
		{input: "customer", want: Customer},
		{input: "COLLECTIONS", want: Collection},
		{input: "variants", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKind(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKind(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGlobalID(t *testing.T) {
	if got := Product.GlobalID(10); got != "gid://shopify/Product/10" {
		t.Errorf("Product.GlobalID(10) = %q", got)
	}
	if got := Variant.GlobalID(3); got != "gid://shopify/ProductVariant/3" {
		t.Errorf("Variant.GlobalID(3) = %q", got)
	}
}

func TestSubResource(t *testing.T) {
	sub, ok := SubResource(Product, "Variants")
	if !ok || sub.Child != Variant {
		t.Errorf("SubResource(product, variants) = %+v, %v", sub, ok)
	}

	sub, ok = SubResource(Collection, "products")
	if !ok || sub.Child != Product {
		t.Errorf("SubResource(collection, products) = %+v, %v", sub, ok)
	}

	if _, ok := SubResource(Order, "line_items"); ok {
		t.Error("orders have no line_items sub-resource")
	}
}

func TestRecordIDs(t *testing.T) {
	tests := []struct {
		kind   Kind
		record Record
		want   int64
	}{
		{kind: Product, record: ProductRecord{ID: 10, Variants: []VariantRecord{{ID: 100}}}, want: 10},
		{kind: Variant, record: VariantRecord{ID: 100, ProductID: 10}, want: 100},
		{kind: Order, record: OrderRecord{ID: 1001}, want: 1001},
		{kind: Customer, record: CustomerRecord{ID: 7}, want: 7},
		{kind: Collection, record: CollectionRecord{ID: 3, Products: []ProductRecord{{ID: 10}}}, want: 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.record.RecordID(); got != tt.want {
				t.Errorf("%s RecordID() = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}
