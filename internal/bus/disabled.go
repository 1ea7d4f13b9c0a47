package bus

import "context"

// DisabledBus is the administratively-disabled transport: publish is a
// silent no-op and subscriptions never yield. Correctness never depends on
// the bus, so disabling it only costs latency.
type DisabledBus struct{}

func NewDisabledBus() *DisabledBus {
	return &DisabledBus{}
}

func (DisabledBus) Publish(ctx context.Context, topic string, data []byte) error {
	return nil
}

func (DisabledBus) Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	return noopSubscription{}, nil
}

func (DisabledBus) Close() error { return nil }

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }
