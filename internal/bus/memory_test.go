package bus

import (
	"context"
	"testing"
)

func TestMemoryBusExactTopic(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var got []string
	sub, err := b.Subscribe(context.Background(), "bookings:abc", func(topic string, data []byte) {
		got = append(got, topic+":"+string(data))
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(context.Background(), "bookings:abc", []byte("x")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := b.Publish(context.Background(), "bookings:other", []byte("y")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(got) != 1 || got[0] != "bookings:abc:x" {
		t.Fatalf("expected only the matching topic, got %v", got)
	}
}

func TestMemoryBusWildcard(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var topics []string
	if _, err := b.Subscribe(context.Background(), "bookings:*", func(topic string, data []byte) {
		topics = append(topics, topic)
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	b.Publish(context.Background(), "bookings:a", nil)
	b.Publish(context.Background(), "bookings:b", nil)
	b.Publish(context.Background(), "suppliers:c", nil)

	if len(topics) != 2 {
		t.Fatalf("expected 2 matched publishes, got %v", topics)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	count := 0
	sub, _ := b.Subscribe(context.Background(), "bookings:*", func(string, []byte) { count++ })

	b.Publish(context.Background(), "bookings:a", nil)
	sub.Unsubscribe()
	b.Publish(context.Background(), "bookings:a", nil)

	if count != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestMemoryBusRejectsMalformedTopic(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	if err := b.Publish(context.Background(), "no-separator", nil); err == nil {
		t.Fatal("expected an error for a malformed topic")
	}
	if err := b.Publish(context.Background(), "bookings:", nil); err == nil {
		t.Fatal("expected an error for an empty id")
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"bookings:a", "bookings:a", true},
		{"bookings:a", "bookings:b", false},
		{"bookings:*", "bookings:b", true},
		{"bookings:*", "suppliers:b", false},
		{"*", "suppliers:b", true},
	}
	for _, tc := range cases {
		if got := matchPattern(tc.pattern, tc.topic); got != tc.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}
