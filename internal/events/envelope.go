package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the current wire version. Consumers reject envelopes
// with a version they do not understand.
const EnvelopeVersion = 1

// EventType selects the payload variant carried in an envelope.
type EventType string

const (
	EventTypeOutreachStarted  EventType = "outreach_started"
	EventTypeOutreachAccepted EventType = "outreach_accepted"
	EventTypeOutreachDeclined EventType = "outreach_declined"
	EventTypeOutreachExpired  EventType = "outreach_expired"
	EventTypeOutreachReminder EventType = "outreach_reminder"
	EventTypeNoCandidatesLeft EventType = "no_candidates_left"
)

// Envelope is the wire format for every domain event. Data holds the
// type-specific payload; Type selects which payload struct it decodes to.
type Envelope struct {
	V          int             `json:"v"`
	Type       EventType       `json:"type"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// BookingTopic returns the fanout topic for a booking, e.g. "bookings:<id>".
func BookingTopic(bookingID uuid.UUID) string {
	return "bookings:" + bookingID.String()
}

// SupplierTopic returns the fanout topic for a supplier-facing notification.
func SupplierTopic(supplierID uuid.UUID) string {
	return "suppliers:" + supplierID.String()
}

// Marshal wraps payload in a versioned envelope and serializes it.
func Marshal(eventType EventType, topic string, occurredAt time.Time, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	env := Envelope{
		V:          EnvelopeVersion,
		Type:       eventType,
		Topic:      topic,
		OccurredAt: occurredAt,
		Data:       data,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", eventType, err)
	}
	return raw, nil
}

// Unmarshal decodes an envelope and checks the wire version.
func Unmarshal(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.V != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.V)
	}
	return &env, nil
}

// ParsePayload decodes the envelope data into its typed payload.
// Unknown event types are an error so consumers can log and drop them
// instead of guessing shape.
func ParsePayload(env *Envelope) (interface{}, error) {
	switch env.Type {
	case EventTypeOutreachStarted:
		var p OutreachStartedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeOutreachAccepted:
		var p OutreachAcceptedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeOutreachDeclined:
		var p OutreachDeclinedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeOutreachExpired:
		var p OutreachExpiredPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeOutreachReminder:
		var p OutreachReminderPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeNoCandidatesLeft:
		var p NoCandidatesLeftPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", env.Type)
	}
}
