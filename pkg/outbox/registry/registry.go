// Package registry maps outbox event types to their topic and payload schema.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"github.com/parkez/parkez-backend/pkg/outbox"
)

// EventDescriptor links an event type to its aggregate, topic and payload.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its decoded payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row the publisher must stop retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return "non-retryable: " + e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes every reservation and reminder event to the
// domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.DomainTopic)
	if topic == "" {
		return nil, errors.New("domain topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	err := reg.Register(
		route[outbox.ReservationCreated](enums.EventReservationCreated, enums.AggregateReservation, topic),
		route[outbox.ReservationReleased](enums.EventReservationReleased, enums.AggregateReservation, topic),
		route[outbox.ReminderRequested](enums.EventReminderRequested, enums.AggregateUser, topic),
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds routes; an event type may only be routed once.
func (r *EventRegistry) Register(descs ...EventDescriptor) error {
	for _, desc := range descs {
		switch {
		case !desc.EventType.IsValid():
			return fmt.Errorf("unknown event type %q", desc.EventType)
		case desc.Topic == "" || desc.PayloadFactory == nil:
			return fmt.Errorf("route for %s is incomplete", desc.EventType)
		}
		if _, dup := r.entries[desc.EventType]; dup {
			return fmt.Errorf("event type %s already routed", desc.EventType)
		}
		r.entries[desc.EventType] = desc
	}
	return nil
}

// EventTypes lists the routed event types in sorted order.
func (r *EventRegistry) EventTypes() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Resolve validates the row and decodes its typed payload. Every failure is
// a NonRetryableError since republishing cannot fix a malformed row.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case strings.TrimSpace(event.AggregateID) == "":
		return nil, rejectf("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, rejectf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, rejectf("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, rejectf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
