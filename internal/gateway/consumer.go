package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/internal/bus"
	"github.com/stagehand/stagehand/internal/events"
)

// Consumer bridges the event bus to the local connection registry: it
// subscribes to a topic pattern, validates each message's envelope, and
// fans valid ones out to local WebSocket clients. Malformed or unknown
// messages are dropped with a log line so one bad producer cannot take a
// gateway down.
type Consumer struct {
	bus      bus.Bus
	registry *Registry
	pattern  string

	sub bus.Subscription
}

func NewConsumer(b bus.Bus, registry *Registry, pattern string) *Consumer {
	return &Consumer{
		bus:      b,
		registry: registry,
		pattern:  pattern,
	}
}

// Start subscribes to the bus. Delivery runs on the bus's goroutines until
// Stop or subscription teardown.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, c.pattern, c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to bus: %w", err)
	}
	c.sub = sub

	log.Info().Str("pattern", c.pattern).Msg("gateway consumer started")
	return nil
}

// Stop tears the subscription down.
func (c *Consumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe gateway consumer")
		}
		c.sub = nil
	}
}

func (c *Consumer) handleMessage(topic string, data []byte) {
	env, err := events.Unmarshal(data)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("dropping malformed event")
		return
	}
	if _, err := events.ParsePayload(env); err != nil {
		log.Warn().
			Err(err).
			Str("topic", topic).
			Str("type", string(env.Type)).
			Msg("dropping event with unknown type")
		return
	}

	c.registry.BroadcastLocal(env.Topic, data)
}
