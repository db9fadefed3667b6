package budget

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRecord is the immutable snapshot written when a line item is paid
type PaymentRecord struct {
	RequestID      uuid.UUID                  `json:"request_id"`
	Method         payment.PaymentMethod      `json:"method"`
	Brand          string                     `json:"brand,omitempty"`
	Installments   int                        `json:"installments"`
	PaidAt         time.Time                  `json:"paid_at"`
	Breakdown      payment.FinancialBreakdown `json:"breakdown"`
	Payer          payment.PayerInfo          `json:"payer"`
	BatchSize      int                        `json:"batch_size"`      // items settled by the same payment action
	FeesConfigured bool                       `json:"fees_configured"` // false when a card payment found no fee row
}

// LineItemInput carries the authoring data for a new line item
type LineItemInput struct {
	Target         string
	Treatments     []string
	Values         map[string]int64
	Faces          []string
	Materials      map[string]string
	LabFulfillment map[string]bool
	LabNames       map[string]string
	LocationRate   decimal.Decimal
}

// LineItem is one treatment unit of a budget: a tooth or arch and the
// treatments to be performed on it
type LineItem struct {
	ID             uuid.UUID         `json:"id"`
	Target         string            `json:"target"`
	Treatments     []string          `json:"treatments"`
	Values         map[string]int64  `json:"values"` // treatment -> minor units
	Faces          []string          `json:"faces,omitempty"`
	Materials      map[string]string `json:"materials,omitempty"`
	LabFulfillment map[string]bool   `json:"lab_fulfillment,omitempty"` // treatment -> needs a lab order
	LabNames       map[string]string `json:"lab_names,omitempty"`
	LocationRate   decimal.Decimal   `json:"location_rate"`
	Status         ItemStatus        `json:"status"`
	Payment        *PaymentRecord    `json:"payment,omitempty"`
}

// NewLineItem validates the input and creates a pending line item with a fresh id
func NewLineItem(in LineItemInput) (LineItem, error) {
	if strings.TrimSpace(in.Target) == "" {
		return LineItem{}, shared.NewDomainError(shared.CodeInvalidInput, "line item target cannot be empty")
	}
	if len(in.Treatments) == 0 {
		return LineItem{}, shared.NewDomainError(shared.CodeInvalidInput, "line item must have at least one treatment")
	}
	for _, t := range in.Treatments {
		v, ok := in.Values[t]
		if !ok {
			return LineItem{}, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("missing value for treatment %q", t))
		}
		if v < 0 {
			return LineItem{}, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("value for treatment %q cannot be negative", t))
		}
	}
	if in.LocationRate.IsNegative() || in.LocationRate.GreaterThan(decimal.NewFromInt(100)) {
		return LineItem{}, shared.NewDomainError(shared.CodeInvalidInput, "location rate must be between 0 and 100")
	}

	values := make(map[string]int64, len(in.Treatments))
	for _, t := range in.Treatments {
		values[t] = in.Values[t]
	}

	return LineItem{
		ID:             uuid.New(),
		Target:         strings.TrimSpace(in.Target),
		Treatments:     append([]string(nil), in.Treatments...),
		Values:         values,
		Faces:          in.Faces,
		Materials:      in.Materials,
		LabFulfillment: in.LabFulfillment,
		LabNames:       in.LabNames,
		LocationRate:   in.LocationRate,
		Status:         ItemStatusPending,
	}, nil
}

// GrossAmount returns the sum of the item's treatment values
func (li *LineItem) GrossAmount() int64 {
	var total int64
	for _, t := range li.Treatments {
		total += li.Values[t]
	}
	return total
}

// IsPaid returns true if the item has been paid
func (li *LineItem) IsPaid() bool {
	return li.Status == ItemStatusPaid
}

// Approve moves pending to approved. Approving an approved item is a no-op.
// Returns true if the status changed.
func (li *LineItem) Approve() (bool, error) {
	switch li.Status {
	case ItemStatusPending:
		li.Status = ItemStatusApproved
		return true, nil
	case ItemStatusApproved:
		return false, nil
	}
	return false, li.transitionError("approve")
}

// Revert moves approved back to pending. Reverting a pending item is a no-op.
// Returns true if the status changed.
func (li *LineItem) Revert() (bool, error) {
	switch li.Status {
	case ItemStatusApproved:
		li.Status = ItemStatusPending
		return true, nil
	case ItemStatusPending:
		return false, nil
	}
	return false, li.transitionError("revert")
}

// Reject moves a pending item to rejected
func (li *LineItem) Reject() error {
	if li.Status != ItemStatusPending {
		return li.transitionError("reject")
	}
	li.Status = ItemStatusRejected
	return nil
}

// CanPay returns an error unless the item is approved and has no payment yet
func (li *LineItem) CanPay() error {
	if li.Status != ItemStatusApproved || li.Payment != nil {
		return li.transitionError("pay")
	}
	return nil
}

// MarkPaid moves an approved item to paid and stores the payment snapshot.
// The snapshot is write-once.
func (li *LineItem) MarkPaid(record PaymentRecord) error {
	if err := li.CanPay(); err != nil {
		return err
	}
	li.Status = ItemStatusPaid
	li.Payment = &record
	return nil
}

func (li *LineItem) transitionError(action string) error {
	return shared.NewDomainError(shared.CodeInvalidTransition,
		fmt.Sprintf("cannot %s line item %s in status %s", action, li.ID, li.Status))
}

// LineItems is an ordered list of line items that implements GORM Scanner/Valuer for JSONB storage
type LineItems []LineItem

// Value implements driver.Valuer interface for GORM to store as JSONB
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (l *LineItems) Scan(value any) error {
	if value == nil {
		*l = LineItems{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan LineItems: unsupported type")
	}

	if len(bytes) == 0 {
		*l = LineItems{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}
