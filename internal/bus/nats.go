package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// subjectPrefix namespaces every event under the NATS subject space.
const subjectPrefix = "stagehand.events."

// NATSConfig holds connection settings for the NATS-backed bus.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns sensible connection defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBus is a core NATS implementation of Bus. Topics map onto subjects
// ("bookings:<id>" -> "stagehand.events.bookings.<id>") and kind wildcards
// map onto subject wildcards ("bookings:*" -> "stagehand.events.bookings.>").
type NATSBus struct {
	nc *nats.Conn
}

func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(ctx context.Context, topic string, data []byte) error {
	subject, err := subjectForTopic(topic)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	subject, err := subjectForPattern(pattern)
	if err != nil {
		return nil, err
	}

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		topic, err := topicForSubject(msg.Subject)
		if err != nil {
			log.Warn().Str("subject", msg.Subject).Msg("dropping message with unmappable subject")
			return
		}
		h(topic, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to NATS: %w", err)
	}

	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func subjectForTopic(topic string) (string, error) {
	kind, id, err := splitTopic(topic)
	if err != nil {
		return "", err
	}
	return subjectPrefix + kind + "." + id, nil
}

func subjectForPattern(pattern string) (string, error) {
	if pattern == "*" {
		return subjectPrefix + ">", nil
	}
	if kind, ok := strings.CutSuffix(pattern, ":*"); ok && kind != "" {
		return subjectPrefix + kind + ".>", nil
	}
	return subjectForTopic(pattern)
}

func topicForSubject(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, subjectPrefix)
	if !ok {
		return "", fmt.Errorf("subject %q outside namespace", subject)
	}
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("subject %q has no id segment", subject)
	}
	return parts[0] + ":" + parts[1], nil
}
