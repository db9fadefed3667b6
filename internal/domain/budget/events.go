package budget

import (
	"time"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeBudgetCreated       = "BudgetCreated"
	EventTypeBudgetItemsApproved = "BudgetItemsApproved"
	EventTypeBudgetItemsReverted = "BudgetItemsReverted"
	EventTypeBudgetItemPaid      = "BudgetItemPaid"
)

// BudgetCreatedEvent is raised when a new budget is created
type BudgetCreatedEvent struct {
	shared.BaseDomainEvent
	BudgetID  uuid.UUID `json:"budget_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Value     int64     `json:"value"`
	ItemCount int       `json:"item_count"`
}

// NewBudgetCreatedEvent creates a new BudgetCreatedEvent
func NewBudgetCreatedEvent(b *Budget) *BudgetCreatedEvent {
	return &BudgetCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBudgetCreated, AggregateType, b.ID, b.ClinicID),
		BudgetID:        b.ID,
		PatientID:       b.PatientID,
		Value:           b.Value,
		ItemCount:       len(b.Items),
	}
}

// BudgetItemsApprovedEvent is raised when one or more items move to approved
type BudgetItemsApprovedEvent struct {
	shared.BaseDomainEvent
	BudgetID    uuid.UUID    `json:"budget_id"`
	LineItemIDs []uuid.UUID  `json:"line_item_ids"`
	Status      BudgetStatus `json:"status"`
}

// NewBudgetItemsApprovedEvent creates a new BudgetItemsApprovedEvent
func NewBudgetItemsApprovedEvent(b *Budget, itemIDs []uuid.UUID) *BudgetItemsApprovedEvent {
	return &BudgetItemsApprovedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBudgetItemsApproved, AggregateType, b.ID, b.ClinicID),
		BudgetID:        b.ID,
		LineItemIDs:     itemIDs,
		Status:          b.Status,
	}
}

// BudgetItemsRevertedEvent is raised when approved items go back to pending
type BudgetItemsRevertedEvent struct {
	shared.BaseDomainEvent
	BudgetID    uuid.UUID    `json:"budget_id"`
	LineItemIDs []uuid.UUID  `json:"line_item_ids"`
	Status      BudgetStatus `json:"status"`
}

// NewBudgetItemsRevertedEvent creates a new BudgetItemsRevertedEvent
func NewBudgetItemsRevertedEvent(b *Budget, itemIDs []uuid.UUID) *BudgetItemsRevertedEvent {
	return &BudgetItemsRevertedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBudgetItemsReverted, AggregateType, b.ID, b.ClinicID),
		BudgetID:        b.ID,
		LineItemIDs:     itemIDs,
		Status:          b.Status,
	}
}

// BudgetItemPaidEvent is raised when a line item is paid
type BudgetItemPaidEvent struct {
	shared.BaseDomainEvent
	BudgetID     uuid.UUID                  `json:"budget_id"`
	LineItemID   uuid.UUID                  `json:"line_item_id"`
	ItemIndex    int                        `json:"item_index"`
	RequestID    uuid.UUID                  `json:"request_id"`
	Method       payment.PaymentMethod      `json:"method"`
	Installments int                        `json:"installments"`
	Breakdown    payment.FinancialBreakdown `json:"breakdown"`
	PaidAt       time.Time                  `json:"paid_at"`
	Status       BudgetStatus               `json:"status"`
}

// NewBudgetItemPaidEvent creates a new BudgetItemPaidEvent
func NewBudgetItemPaidEvent(b *Budget, index int, li *LineItem) *BudgetItemPaidEvent {
	e := &BudgetItemPaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBudgetItemPaid, AggregateType, b.ID, b.ClinicID),
		BudgetID:        b.ID,
		LineItemID:      li.ID,
		ItemIndex:       index,
		Status:          b.Status,
	}
	if li.Payment != nil {
		e.RequestID = li.Payment.RequestID
		e.Method = li.Payment.Method
		e.Installments = li.Payment.Installments
		e.Breakdown = li.Payment.Breakdown
		e.PaidAt = li.Payment.PaidAt
	}
	return e
}
