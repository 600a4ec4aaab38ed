// Package pagination emulates offset paging on top of cursor connections.
//
// The Admin API only pages forward by cursor. An offset request is resolved
// by walking id-only pages of up to 250 records and taking the endCursor of
// the page that ends at the offset. Resolved cursors are cached per shop,
// resource, filter and offset so repeated offsets cost a single cache read.
//
// Example usage:
//
//	resolver := pagination.NewResolver(pagination.NewWalker(pagination.DefaultConfig()), cacheManager)
//	target := pagination.Target{Shop: shop, Kind: resource.Product, Offset: 500}
//	cursor, ok, err := resolver.Resolve(ctx, target, fetcher)
//
// The emulation is deterministic for stable data. Inserts and deletes ahead
// of the offset shift positions, and the cost grows with offset/250
// requests. An offset past the end resolves with ok set to false.
package pagination
