package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events to "<prefix>.<type>.<shop>". Dots in the shop
// domain become underscores so the shop stays one subject token.
type NATSSink struct {
	conn   publisher
	prefix string
}

// NewNATSSink creates a sink publishing through conn, usually a *nats.Conn.
func NewNATSSink(conn publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "gqlbridge.events"
	}
	return &NATSSink{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e Event) string {
	shop := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(e.Shop)
	if shop == "" {
		shop = "_"
	}
	return s.prefix + "." + string(e.Type) + "." + shop
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Publish(s.Subject(e), data); err != nil {
		publishErrorsTotal.WithLabelValues("nats").Inc()
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}
