package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is something that happened to an aggregate
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
	ClinicID() uuid.UUID
}

// EventPublisher hands events to whoever listens
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventHandler reacts to published events. A handler whose EventTypes is
// empty receives every event.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// BaseDomainEvent implements the DomainEvent header. Concrete events embed it
// and add their payload.
type BaseDomainEvent struct {
	id            uuid.UUID
	eventType     string
	occurredAt    time.Time
	aggregateID   uuid.UUID
	aggregateType string
	clinicID      uuid.UUID
}

// NewBaseDomainEvent stamps a new event header with a fresh id and the current time
func NewBaseDomainEvent(eventType, aggregateType string, aggregateID, clinicID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		id:            uuid.New(),
		eventType:     eventType,
		occurredAt:    time.Now(),
		aggregateID:   aggregateID,
		aggregateType: aggregateType,
		clinicID:      clinicID,
	}
}

func (e BaseDomainEvent) EventID() uuid.UUID { return e.id }
func (e BaseDomainEvent) EventType() string { return e.eventType }
func (e BaseDomainEvent) OccurredAt() time.Time { return e.occurredAt }
func (e BaseDomainEvent) AggregateID() uuid.UUID { return e.aggregateID }
func (e BaseDomainEvent) AggregateType() string { return e.aggregateType }
func (e BaseDomainEvent) ClinicID() uuid.UUID { return e.clinicID }
