package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// KeyPrefix is the root of every cache key.
const KeyPrefix = "gqlbridge:cache:"

// credentialParams never take part in a key.
var credentialParams = map[string]bool{
	"access_token":           true,
	"token":                  true,
	"password":               true,
	"secret":                 true,
	"api_key":                true,
	"authorization":          true,
	"x-shopify-access-token": true,
}

// CacheKey identifies one cached bridge response.
type CacheKey struct {
	// Shop is the shop domain (e.g., "demo.myshopify.com")
	Shop string

	// Operation is the read name (e.g., "products.list", "product.get")
	Operation string

	// ID is the item id for single and sub-resource reads (0 for lists)
	ID int64

	// Params are the request parameters that shape the response
	Params map[string]string
}

// Namespace is the resource collection the key belongs to, used by targeted
// invalidation. "product.variants" and "products.list" both live in
// "products".
func (k CacheKey) Namespace() string {
	return namespaceOf(k.Operation)
}

func namespaceOf(operation string) string {
	res, _, _ := strings.Cut(operation, ".")
	if kind, err := resource.ParseKind(res); err == nil {
		return kind.Plural()
	}
	return strings.ToLower(res)
}

// String generates a deterministic cache key string.
// Format: gqlbridge:cache:<shop>:<namespace>[:id=<n>]:<hash>
//
// Example:
//
//	gqlbridge:cache:demo.myshopify.com:products:id=10:9f86d081884c7d65...
func (k CacheKey) String() string {
	parts := []string{strings.TrimSuffix(KeyPrefix, ":"), strings.ToLower(k.Shop), k.Namespace()}
	if k.ID > 0 {
		parts = append(parts, fmt.Sprintf("id=%d", k.ID))
	}
	parts = append(parts, k.hash())
	return strings.Join(parts, ":")
}

// hash digests the operation and the sanitized, sorted parameters.
func (k CacheKey) hash() string {
	params := SanitizeParams(k.Params)
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(k.Operation))
	for _, key := range keys {
		// Length-prefixed so "a=b" + "c" never collides with "a" + "b=c".
		fmt.Fprintf(h, "\x00%d:%s%d:%s", len(key), key, len(params[key]), params[key])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SanitizeParams returns a copy of params without credential keys.
func SanitizeParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for key, value := range params {
		if credentialParams[strings.ToLower(key)] {
			continue
		}
		out[key] = value
	}
	return out
}

// shopPrefix lists every key of a shop namespace.
func shopPrefix(shop, namespace string) string {
	return KeyPrefix + strings.ToLower(shop) + ":" + namespace + ":"
}
