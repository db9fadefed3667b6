package budget

import (
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateType is the aggregate type name used in domain events
const AggregateType = "Budget"

// Budget is a patient's treatment budget: an ordered list of line items, each
// approved and paid on its own
type Budget struct {
	shared.BaseAggregateRoot
	ClinicID  uuid.UUID    `json:"clinic_id"`
	PatientID uuid.UUID    `json:"patient_id"`
	Date      time.Time    `json:"date"`
	Value     int64        `json:"value"` // sum of item gross amounts at creation
	Status    BudgetStatus `json:"status"`
	Items     LineItems    `json:"items"`
	Notes     string       `json:"notes,omitempty"`
}

// NewBudget creates a budget with every item pending.
// Value is fixed to the sum of the item gross amounts at this point.
func NewBudget(clinicID, patientID uuid.UUID, date time.Time, items []LineItemInput, notes string) (*Budget, error) {
	if clinicID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "clinic ID cannot be empty")
	}
	if patientID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "patient ID cannot be empty")
	}
	if date.IsZero() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "budget date cannot be empty")
	}
	if len(items) == 0 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "budget must have at least one line item")
	}

	lineItems := make(LineItems, 0, len(items))
	var value int64
	for i, in := range items {
		li, err := NewLineItem(in)
		if err != nil {
			return nil, shared.WrapDomainError(shared.CodeInvalidInput, fmt.Sprintf("line item %d is invalid", i), err)
		}
		value += li.GrossAmount()
		lineItems = append(lineItems, li)
	}

	b := &Budget{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ClinicID:          clinicID,
		PatientID:         patientID,
		Date:              date,
		Value:             value,
		Items:             lineItems,
		Notes:             notes,
	}
	b.RecomputeStatus()
	b.AddDomainEvent(NewBudgetCreatedEvent(b))
	return b, nil
}

// Item returns the line item at index
func (b *Budget) Item(index int) (*LineItem, error) {
	if index < 0 || index >= len(b.Items) {
		return nil, shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("line item index %d not found in budget %s", index, b.ID))
	}
	return &b.Items[index], nil
}

// ItemByID returns the line item with the given id along with its index
func (b *Budget) ItemByID(id uuid.UUID) (*LineItem, int, error) {
	for i := range b.Items {
		if b.Items[i].ID == id {
			return &b.Items[i], i, nil
		}
	}
	return nil, -1, shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("line item %s not found in budget %s", id, b.ID))
}

// ItemStatuses returns the status of every item in order
func (b *Budget) ItemStatuses() []ItemStatus {
	statuses := make([]ItemStatus, len(b.Items))
	for i := range b.Items {
		statuses[i] = b.Items[i].Status
	}
	return statuses
}

// RecomputeStatus re-derives the aggregate status from the items
func (b *Budget) RecomputeStatus() {
	b.Status = DeriveBudgetStatus(b.ItemStatuses())
}

// CurrentItemsValue returns the sum of the items' gross amounts as they are now.
// It drifts from Value if items are edited after creation.
func (b *Budget) CurrentItemsValue() int64 {
	var total int64
	for i := range b.Items {
		total += b.Items[i].GrossAmount()
	}
	return total
}

// ApproveItems approves the items at the given indices.
// Every index is validated before any item changes. Returns the ids of the items
// whose status actually changed.
func (b *Budget) ApproveItems(indices []int) ([]uuid.UUID, error) {
	return b.applyToItems(indices, func(li *LineItem) error {
		if li.Status != ItemStatusPending && li.Status != ItemStatusApproved {
			return li.transitionError("approve")
		}
		return nil
	}, (*LineItem).Approve, func(changed []uuid.UUID) shared.DomainEvent {
		return NewBudgetItemsApprovedEvent(b, changed)
	})
}

// RevertItems moves the items at the given indices back to pending
func (b *Budget) RevertItems(indices []int) ([]uuid.UUID, error) {
	return b.applyToItems(indices, func(li *LineItem) error {
		if li.Status != ItemStatusPending && li.Status != ItemStatusApproved {
			return li.transitionError("revert")
		}
		return nil
	}, (*LineItem).Revert, func(changed []uuid.UUID) shared.DomainEvent {
		return NewBudgetItemsRevertedEvent(b, changed)
	})
}

func (b *Budget) applyToItems(
	indices []int,
	check func(*LineItem) error,
	apply func(*LineItem) (bool, error),
	event func([]uuid.UUID) shared.DomainEvent,
) ([]uuid.UUID, error) {
	if len(indices) == 0 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "at least one item index is required")
	}
	for _, idx := range indices {
		li, err := b.Item(idx)
		if err != nil {
			return nil, err
		}
		if err := check(li); err != nil {
			return nil, err
		}
	}

	var changed []uuid.UUID
	for _, idx := range uniqueIndices(indices) {
		li := &b.Items[idx]
		ok, err := apply(li)
		if err != nil {
			return nil, err
		}
		if ok {
			changed = append(changed, li.ID)
		}
	}
	if len(changed) > 0 {
		b.RecomputeStatus()
		b.Touch(time.Now())
		b.AddDomainEvent(event(changed))
	}
	return changed, nil
}

// RejectItem rejects a pending item
func (b *Budget) RejectItem(index int) error {
	li, err := b.Item(index)
	if err != nil {
		return err
	}
	if err := li.Reject(); err != nil {
		return err
	}
	b.RecomputeStatus()
	b.Touch(time.Now())
	return nil
}

// MarkItemPaid marks the approved item at index paid with the given snapshot
func (b *Budget) MarkItemPaid(index int, record PaymentRecord) error {
	li, err := b.Item(index)
	if err != nil {
		return err
	}
	if err := li.MarkPaid(record); err != nil {
		return err
	}
	b.RecomputeStatus()
	b.Touch(time.Now())
	b.AddDomainEvent(NewBudgetItemPaidEvent(b, index, li))
	return nil
}

func uniqueIndices(indices []int) []int {
	seen := make(map[int]struct{}, len(indices))
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}
