package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// natsEnvelope carries the expiry alongside the value because KV buckets only
// support a bucket-wide max age.
type natsEnvelope struct {
	Value     []byte    `json:"v"`
	ExpiresAt time.Time `json:"exp,omitempty"`
}

// NATS is a Store backed by a JetStream key-value bucket.
//
// Keys are escaped into the bucket's allowed alphabet, so any string may be
// used as a key. Compare-and-swap uses the entry revision.
type NATS struct {
	bucket jetstream.KeyValue
	now    func() time.Time
}

// NewNATS wraps an existing bucket.
func NewNATS(bucket jetstream.KeyValue) *NATS {
	return &NATS{bucket: bucket, now: time.Now}
}

// OpenNATS creates or binds the named bucket on js.
func OpenNATS(ctx context.Context, js jetstream.JetStream, bucket string) (*NATS, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "shopify gql bridge state",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	return NewNATS(kv), nil
}

func (n *NATS) decode(raw []byte) ([]byte, bool, error) {
	var env natsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode kv envelope: %w", err)
	}
	if !env.ExpiresAt.IsZero() && !n.now().Before(env.ExpiresAt) {
		return nil, false, nil
	}
	return env.Value, true, nil
}

func (n *NATS) encode(value []byte, ttl time.Duration) ([]byte, error) {
	env := natsEnvelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = n.now().Add(ttl)
	}
	return json.Marshal(env)
}

// Get implements Store. Expired entries are purged lazily.
func (n *NATS) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.bucket.Get(ctx, escapeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	value, live, err := n.decode(entry.Value())
	if err != nil {
		return nil, err
	}
	if !live {
		_ = n.bucket.Delete(ctx, escapeKey(key))
		return nil, ErrNotFound
	}
	return value, nil
}

// Set implements Store.
func (n *NATS) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := n.encode(value, ttl)
	if err != nil {
		return err
	}
	if _, err := n.bucket.Put(ctx, escapeKey(key), data); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (n *NATS) Delete(ctx context.Context, key string) error {
	err := n.bucket.Delete(ctx, escapeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Store. Expiry is not checked; callers reading the keys
// will see ErrNotFound for entries that lapsed.
func (n *NATS) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := n.bucket.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for k := range lister.Keys() {
		key, ok := unescapeKey(k)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Update implements Updater using revision-checked writes.
func (n *NATS) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	k := escapeKey(key)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var (
			current  []byte
			exists   bool
			revision uint64
		)

		entry, err := n.bucket.Get(ctx, k)
		switch {
		case err == nil:
			revision = entry.Revision()
			current, exists, err = n.decode(entry.Value())
			if err != nil {
				return err
			}
		case errors.Is(err, jetstream.ErrKeyNotFound):
		default:
			return fmt.Errorf("kv get %s: %w", key, err)
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		data, err := n.encode(next, ttl)
		if err != nil {
			return err
		}

		if revision == 0 {
			_, err = n.bucket.Create(ctx, k, data)
		} else {
			_, err = n.bucket.Update(ctx, k, data, revision)
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("kv update %s: %w", key, err)
		}
	}
	return fmt.Errorf("kv update %s: %w", key, ErrConflict)
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		// 10071: wrong last sequence
		return apiErr.ErrorCode == 10071
	}
	return strings.Contains(err.Error(), "wrong last sequence")
}

// escapeKey maps arbitrary strings onto the KV key alphabet
// [-/=.A-Za-z0-9]. Any other byte, and '_' itself, is written as _XX.
func escapeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '/', c == '=':
			b.WriteByte(c)
		case c == '.' && i > 0 && i < len(key)-1 && key[i-1] != '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

func unescapeKey(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", false
		}
		c, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", false
		}
		b.WriteByte(byte(c))
		i += 2
	}
	return b.String(), true
}
