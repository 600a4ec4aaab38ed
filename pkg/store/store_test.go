package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMiniredisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "a:1", []byte("one"), time.Minute))
	require.NoError(t, s.Set(ctx, "a:2", []byte("two"), 0))
	require.NoError(t, s.Set(ctx, "b:1", []byte("three"), time.Minute))

	got, err := s.Get(ctx, "a:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	keys, err := s.Keys(ctx, "a:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a:1", "a:2"}, keys)

	require.NoError(t, s.Delete(ctx, "a:1"))
	require.NoError(t, s.Delete(ctx, "a:1"))
	_, err = s.Get(ctx, "a:1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = Update(ctx, s, "counter", time.Minute, func(cur []byte, exists bool) ([]byte, error) {
		assert.False(t, exists)
		return []byte("1"), nil
	})
	require.NoError(t, err)

	err = Update(ctx, s, "counter", time.Minute, func(cur []byte, exists bool) ([]byte, error) {
		assert.True(t, exists)
		assert.Equal(t, []byte("1"), cur)
		return []byte("2"), nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Update(ctx, s, "counter", time.Minute, func([]byte, bool) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err = s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Second))
	clock.Advance(9 * time.Second)
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'y'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemory_ConcurrentUpdate(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "n", 0, func(cur []byte, _ bool) ([]byte, error) {
				return append(cur, 'x'), nil
			})
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestRedis(t *testing.T) {
	s, _ := newMiniredisStore(t)
	exerciseStore(t, s)
}

func TestRedis_Expiry(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 5*time.Second))
	mr.FastForward(6 * time.Second)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_UpdateKeepsTTL(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	err := s.Update(ctx, "k", 30*time.Second, func([]byte, bool) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("k"))
}

func TestRedis_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	_, err := NewRedis(client).Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestEscapeKey(t *testing.T) {
	keys := []string{
		"gqlbridge:cache:demo.myshopify.com:products:ab12",
		"gqlbridge:breaker:demo.myshopify.com/products.list",
		".leading",
		"trailing.",
		"double..dot",
		"under_score",
		"spaces and ümlauts",
	}

	for _, key := range keys {
		escaped := escapeKey(key)
		assert.Regexp(t, `^[-/_=.A-Za-z0-9]+$`, escaped)
		assert.NotContains(t, escaped, "..")
		assert.NotRegexp(t, `^\.|\.$`, escaped)

		back, ok := unescapeKey(escaped)
		require.True(t, ok)
		assert.Equal(t, key, back)
	}

	_, ok := unescapeKey("bad_z")
	assert.False(t, ok)
}
