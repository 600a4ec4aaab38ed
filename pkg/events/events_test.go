package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNew(t *testing.T) {
	e := New(TypeRequest, "demo.myshopify.com", "products.list")

	assert.Len(t, e.ID, 36)
	assert.WithinDuration(t, time.Now(), e.Time, time.Second)
	assert.Equal(t, TypeRequest, e.Type)
	assert.False(t, e.Failed())

	e.ErrorKind = "server"
	assert.True(t, e.Failed())
	assert.NotEqual(t, e.ID, New(TypeRequest, "", "").ID)
}

func TestLogSink(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := NewLogSink(zerolog.New(buf))

	e := New(TypeRequest, "demo.myshopify.com", "orders.list")
	e.ErrorKind = "auth"
	e.Message = "request failed"
	require.NoError(t, sink.Publish(context.Background(), e))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"operation":"orders.list"`)
	assert.Contains(t, out, `"error_kind":"auth"`)
	assert.Contains(t, out, `"message":"request failed"`)
}

func TestMulti(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}

	err := Multi{ok, nil, failing}.Publish(context.Background(), New(TypeRetry, "s", "op"))

	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1, ok.Len())
	assert.Equal(t, 1, failing.Len())
	assert.NoError(t, Multi{ok}.Publish(context.Background(), Event{}))
}

func TestAsync_DeliversAndDrains(t *testing.T) {
	rec := &recordingSink{}
	a := NewAsync(rec, 16)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Publish(context.Background(), New(TypeCacheHit, "s", "op")))
	}
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.Equal(t, 10, rec.Len())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocked := SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	})
	a := NewAsync(blocked, 1)

	// One event is taken by the worker, one fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Publish(context.Background(), Event{}))
	}
	close(release)
	require.NoError(t, a.Close())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	e := New(TypeRequest, "demo.myshopify.com", "products.list")
	e.Duration = 120 * time.Millisecond
	require.NoError(t, sink.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "demo.myshopify.com", string(msg.Key))
	assert.Equal(t, "request", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Duration, decoded.Duration)

	w.err = errors.New("leader not available")
	assert.ErrorContains(t, sink.Publish(context.Background(), e), "kafka publish")
}

type fakeConn struct {
	subjects []string
	err      error
}

func (f *fakeConn) Publish(subject string, _ []byte) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

func TestNATSSink(t *testing.T) {
	conn := &fakeConn{}
	sink := NewNATSSink(conn, "")

	require.NoError(t, sink.Publish(context.Background(), New(TypeCacheMiss, "demo.myshopify.com", "orders.list")))
	assert.Equal(t, []string{"gqlbridge.events.cache_miss.demo_myshopify_com"}, conn.subjects)

	custom := NewNATSSink(conn, "audit.")
	assert.Equal(t, "audit.retry._", custom.Subject(Event{Type: TypeRetry}))

	conn.err = errors.New("no responders")
	assert.ErrorContains(t, sink.Publish(context.Background(), Event{}), "nats publish")
}
