package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderKind identifies the kind of downstream order created for a paid item
type OrderKind string

const (
	OrderKindLabOrder  OrderKind = "lab_order"
	OrderKindOrthoCase OrderKind = "ortho_case"
)

// IsValid checks if the order kind is valid
func (k OrderKind) IsValid() bool {
	return k == OrderKindLabOrder || k == OrderKindOrthoCase
}

// String returns the string representation of OrderKind
func (k OrderKind) String() string {
	return string(k)
}

// LabOrderSpec describes a prosthetic piece to be produced by a dental lab
type LabOrderSpec struct {
	ClinicID   uuid.UUID         `json:"clinic_id"`
	BudgetID   uuid.UUID         `json:"budget_id"`
	LineItemID uuid.UUID         `json:"line_item_id"`
	PatientID  uuid.UUID         `json:"patient_id"`
	Target     string            `json:"target"`
	Treatments []string          `json:"treatments"`
	Faces      []string          `json:"faces,omitempty"`
	Materials  map[string]string `json:"materials,omitempty"`
	LabName    string            `json:"lab_name,omitempty"`
	Price      int64             `json:"price"`
	PaidAt     time.Time         `json:"paid_at"`
}

// OrthoCaseSpec opens an orthodontic case for a paid item
type OrthoCaseSpec struct {
	ClinicID   uuid.UUID `json:"clinic_id"`
	BudgetID   uuid.UUID `json:"budget_id"`
	LineItemID uuid.UUID `json:"line_item_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Target     string    `json:"target"`
	Treatments []string  `json:"treatments"`
	Price      int64     `json:"price"`
	StartDate  time.Time `json:"start_date"`
}

// OrderDispatcher creates downstream orders. It does no duplicate detection of its
// own; the Gate makes sure each is called at most once per line item and kind.
type OrderDispatcher interface {
	CreateLabOrder(ctx context.Context, spec LabOrderSpec) (string, error)
	CreateOrthoCase(ctx context.Context, spec OrthoCaseSpec) (string, error)
}

// OrderRecord is the durable proof that an order was created for a line item
type OrderRecord struct {
	ID         uuid.UUID `json:"id"`
	ClinicID   uuid.UUID `json:"clinic_id"`
	BudgetID   uuid.UUID `json:"budget_id"`
	LineItemID uuid.UUID `json:"line_item_id"`
	Kind       OrderKind `json:"kind"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderRegistry stores OrderRecords. (BudgetID, LineItemID, Kind) is unique;
// Record returns an error matching shared.ErrConcurrencyConflict on a duplicate.
type OrderRegistry interface {
	Exists(ctx context.Context, budgetID, lineItemID uuid.UUID, kind OrderKind) (bool, error)
	Record(ctx context.Context, record *OrderRecord) error
	FindByBudget(ctx context.Context, budgetID uuid.UUID) ([]OrderRecord, error)
}
