package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseAggregateRoot carries what every aggregate needs: identity, timestamps,
// the version checked by optimistic locking and the events raised since it
// was loaded. Events are never persisted with the aggregate.
type BaseAggregateRoot struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
	events    []DomainEvent
}

// NewBaseAggregateRoot starts a new aggregate at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	now := time.Now()
	return BaseAggregateRoot{ID: uuid.New(), CreatedAt: now, UpdatedAt: now, Version: 1}
}

// RestoreAggregateRoot rebuilds the root of a stored aggregate with no pending events
func RestoreAggregateRoot(id uuid.UUID, createdAt, updatedAt time.Time, version int) BaseAggregateRoot {
	return BaseAggregateRoot{ID: id, CreatedAt: createdAt, UpdatedAt: updatedAt, Version: version}
}

// Touch records a modification time
func (a *BaseAggregateRoot) Touch(at time.Time) {
	a.UpdatedAt = at
}

// AddDomainEvent queues an event for publication after the next save
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.events = append(a.events, event)
}

// GetDomainEvents returns the queued events
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.events
}

// PullDomainEvents returns the queued events and empties the queue
func (a *BaseAggregateRoot) PullDomainEvents() []DomainEvent {
	events := a.events
	a.events = nil
	return events
}
