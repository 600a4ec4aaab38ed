package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/cache"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/store"
)

// fakeConnection serves total records whose cursors are "c<position>".
type fakeConnection struct {
	total int
	calls []string
	fail  error
}

func (f *fakeConnection) FetchPage(_ context.Context, after string, first int) (Page, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%d", after, first))
	if f.fail != nil {
		return Page{}, f.fail
	}

	start := 0
	if after != "" {
		if _, err := fmt.Sscanf(after, "c%d", &start); err != nil {
			return Page{}, err
		}
	}

	count := min(first, max(f.total-start, 0))
	page := Page{Count: count, HasNextPage: start+count < f.total}
	if count > 0 {
		page.EndCursor = fmt.Sprintf("c%d", start+count)
	}
	return page, nil
}

func TestWalker_CursorForOffset(t *testing.T) {
	tests := []struct {
		name       string
		total      int
		offset     int
		wantCursor string
		wantOK     bool
		wantCalls  int
	}{
		{name: "zero offset", total: 100, offset: 0, wantCursor: "", wantOK: true, wantCalls: 0},
		{name: "within first page", total: 100, offset: 40, wantCursor: "c40", wantOK: true, wantCalls: 1},
		{name: "exact page boundary", total: 1000, offset: 250, wantCursor: "c250", wantOK: true, wantCalls: 1},
		{name: "multiple pages", total: 1000, offset: 620, wantCursor: "c620", wantOK: true, wantCalls: 3},
		{name: "offset equals total", total: 300, offset: 300, wantCursor: "c300", wantOK: true, wantCalls: 2},
		{name: "past the end", total: 300, offset: 400, wantOK: false, wantCalls: 2},
		{name: "empty connection", total: 0, offset: 10, wantOK: false, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConnection{total: tt.total}
			w := NewWalker(DefaultConfig())

			cursor, ok, err := w.CursorForOffset(context.Background(), conn, tt.offset)
			if err != nil {
				t.Fatalf("CursorForOffset() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && cursor != tt.wantCursor {
				t.Errorf("cursor = %q, want %q", cursor, tt.wantCursor)
			}
			if len(conn.calls) != tt.wantCalls {
				t.Errorf("page fetches = %v, want %d", conn.calls, tt.wantCalls)
			}
		})
	}
}

func TestWalker_PageSizes(t *testing.T) {
	conn := &fakeConnection{total: 1000}
	w := NewWalker(DefaultConfig())

	if _, _, err := w.CursorForOffset(context.Background(), conn, 620); err != nil {
		t.Fatal(err)
	}

	want := []string{"/250", "c250/250", "c500/120"}
	for i := range want {
		if conn.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, conn.calls[i], want[i])
		}
	}
}

func TestWalker_Validation(t *testing.T) {
	w := NewWalker(Config{MaxOffset: 1000})

	for _, offset := range []int{-1, 1001} {
		_, _, err := w.CursorForOffset(context.Background(), &fakeConnection{}, offset)
		if !apierr.Is(err, apierr.KindValidation) {
			t.Errorf("offset %d: error = %v, want validation error", offset, err)
		}
	}
}

func TestWalker_FetchError(t *testing.T) {
	boom := apierr.New(apierr.KindServer, "boom")
	w := NewWalker(DefaultConfig())

	_, _, err := w.CursorForOffset(context.Background(), &fakeConnection{total: 500, fail: boom}, 10)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped fetch error", err)
	}
}

func TestResolver_CachesCursor(t *testing.T) {
	manager := cache.NewManager(store.NewMemory(), cache.WithLogger(zerolog.Nop()))
	resolver := NewResolver(NewWalker(DefaultConfig()), manager)
	ctx := context.Background()

	target := Target{Shop: "demo.myshopify.com", Kind: resource.Product, Filter: "vendor:'Nike'", Offset: 300}
	conn := &fakeConnection{total: 1000}

	for i := 0; i < 2; i++ {
		cursor, ok, err := resolver.Resolve(ctx, target, conn)
		if err != nil || !ok || cursor != "c300" {
			t.Fatalf("Resolve() = %q, %v, %v", cursor, ok, err)
		}
	}
	if len(conn.calls) != 2 {
		t.Errorf("page fetches = %d, want 2 (second resolve served from cache)", len(conn.calls))
	}

	// A different filter is a different walk.
	target.Filter = "vendor:'Adidas'"
	if _, _, err := resolver.Resolve(ctx, target, conn); err != nil {
		t.Fatal(err)
	}
	if len(conn.calls) != 4 {
		t.Errorf("page fetches = %d, want 4", len(conn.calls))
	}
}

func TestResolver_CachesPastEnd(t *testing.T) {
	manager := cache.NewManager(store.NewMemory(), cache.WithLogger(zerolog.Nop()))
	resolver := NewResolver(NewWalker(DefaultConfig()), manager)
	ctx := context.Background()

	target := Target{Shop: "s", Kind: resource.Order, Offset: 50}
	conn := &fakeConnection{total: 10}

	for i := 0; i < 2; i++ {
		if _, ok, err := resolver.Resolve(ctx, target, conn); err != nil || ok {
			t.Fatalf("Resolve() ok = %v, err = %v; want past end", ok, err)
		}
	}
	if len(conn.calls) != 1 {
		t.Errorf("page fetches = %d, want 1", len(conn.calls))
	}
}

func TestResolver_WithoutCache(t *testing.T) {
	resolver := NewResolver(NewWalker(DefaultConfig()), nil)
	conn := &fakeConnection{total: 100}

	cursor, ok, err := resolver.Resolve(context.Background(), Target{Kind: resource.Customer, Offset: 5}, conn)
	if err != nil || !ok || cursor != "c5" {
		t.Errorf("Resolve() = %q, %v, %v", cursor, ok, err)
	}
}
