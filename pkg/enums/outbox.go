package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateReservation OutboxAggregateType = "reservation"
	AggregateUser        OutboxAggregateType = "user"
)

// OutboxEventType names a domain event published through the outbox.
type OutboxEventType string

const (
	EventReservationCreated  OutboxEventType = "reservation_created"
	EventReservationReleased OutboxEventType = "reservation_released"
	EventReminderRequested   OutboxEventType = "reminder_requested"
)

var (
	aggregateTypes = []OutboxAggregateType{AggregateReservation, AggregateUser}
	eventTypes     = []OutboxEventType{EventReservationCreated, EventReservationReleased, EventReminderRequested}
)

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func (e OutboxEventType) IsValid() bool { return slices.Contains(eventTypes, e) }

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
