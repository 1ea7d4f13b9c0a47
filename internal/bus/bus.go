package bus

import (
	"context"
	"fmt"
	"strings"
)

// Handler receives a fanout message for a subscribed topic.
type Handler func(topic string, data []byte)

// Bus is the realtime fanout transport. Publish is fire-and-forget to every
// subscriber of the topic across all processes. Delivery is a latency
// optimization only; the outbox is the correctness mechanism, so callers
// must never depend on a publish reaching anyone.
type Bus interface {
	// Publish sends data to all current subscribers of topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe delivers every message whose topic matches pattern.
	// Patterns are either an exact topic ("bookings:<id>") or a kind
	// wildcard ("bookings:*").
	Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error)

	Close() error
}

// Subscription is a live subscription handle.
type Subscription interface {
	Unsubscribe() error
}

// splitTopic breaks "kind:id" into its two parts.
func splitTopic(topic string) (kind, id string, err error) {
	parts := strings.SplitN(topic, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed topic %q", topic)
	}
	return parts[0], parts[1], nil
}

// matchPattern reports whether topic matches an exact-or-wildcard pattern.
func matchPattern(pattern, topic string) bool {
	if pattern == topic || pattern == "*" {
		return true
	}
	if kind, ok := strings.CutSuffix(pattern, ":*"); ok {
		return strings.HasPrefix(topic, kind+":")
	}
	return false
}
