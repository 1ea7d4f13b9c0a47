package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// AMQPBus implements Bus on a RabbitMQ topic exchange. Topics become routing
// keys ("bookings:<id>" -> "bookings.<id>"); kind wildcards bind with "#".
type AMQPBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPBus(url, exchange string) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPBus{conn: conn, ch: ch, exchange: exchange}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, topic string, data []byte) error {
	key, err := routingKeyForTopic(topic)
	if err != nil {
		return err
	}
	err = b.ch.Publish(b.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to AMQP: %w", err)
	}
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	key, err := routingKeyForPattern(pattern)
	if err != nil {
		return nil, err
	}

	// Exclusive auto-delete queue per subscriber: every process sees every
	// message, which is the fanout semantic the registry needs.
	q, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := b.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				topic, err := topicForRoutingKey(d.RoutingKey)
				if err != nil {
					log.Warn().Str("routing_key", d.RoutingKey).Msg("dropping message with unmappable routing key")
					continue
				}
				h(topic, d.Body)
			}
		}
	}()

	return &amqpSubscription{queue: q.Name, ch: b.ch, done: done}, nil
}

func (b *AMQPBus) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}

type amqpSubscription struct {
	queue string
	ch    *amqp.Channel
	done  chan struct{}
}

func (s *amqpSubscription) Unsubscribe() error {
	close(s.done)
	_, err := s.ch.QueueDelete(s.queue, false, false, false)
	return err
}

func routingKeyForTopic(topic string) (string, error) {
	kind, id, err := splitTopic(topic)
	if err != nil {
		return "", err
	}
	return kind + "." + id, nil
}

func routingKeyForPattern(pattern string) (string, error) {
	if pattern == "*" {
		return "#", nil
	}
	if kind, ok := strings.CutSuffix(pattern, ":*"); ok && kind != "" {
		return kind + ".#", nil
	}
	return routingKeyForTopic(pattern)
}

func topicForRoutingKey(key string) (string, error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("routing key %q has no id segment", key)
	}
	return parts[0] + ":" + parts[1], nil
}
