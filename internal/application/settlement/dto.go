package settlement

import (
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/google/uuid"
)

// MaxInstallments is the longest credit plan accepted
const MaxInstallments = 24

// CreateBudgetInput carries a new budget and its line items
type CreateBudgetInput struct {
	ClinicID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Items     []budget.LineItemInput
	Notes     string
}

// ItemsInput names the items of a budget an operation applies to, by position
type ItemsInput struct {
	BudgetID    uuid.UUID
	ItemIndices []int
}

// PaymentTerms is how a payment is made. A zero RequestID is replaced by a new
// one; clients that retry should send the same RequestID every time.
type PaymentTerms struct {
	RequestID    uuid.UUID
	Method       payment.PaymentMethod
	Installments int
	Brand        string
	Anticipate   bool
	Payer        payment.PayerInfo
	Description  string
}

// PayItemInput pays one approved item
type PayItemInput struct {
	BudgetID  uuid.UUID
	ItemIndex int
	PaymentTerms
}

// PaySelectedItemsInput pays several items with one payment action. With
// ApproveFirst, pending items among them are approved in the same save.
type PaySelectedItemsInput struct {
	BudgetID     uuid.UUID
	ItemIndices  []int
	ApproveFirst bool
	PaymentTerms
}

// PreviewInput asks for the breakdown of a payment without registering it.
// Items may be in any non-terminal status.
type PreviewInput struct {
	BudgetID    uuid.UUID
	ItemIndices []int
	PaymentTerms
}

// ItemSettlement is the financial result for one item of a payment
type ItemSettlement struct {
	ItemIndex      int                        `json:"item_index"`
	LineItemID     uuid.UUID                  `json:"line_item_id"`
	Breakdown      payment.FinancialBreakdown `json:"breakdown"`
	Installments   []payment.Installment      `json:"installments"`
	TransactionIDs []uuid.UUID                `json:"transaction_ids,omitempty"`
}

// PaymentPreview is what a payment would produce
type PaymentPreview struct {
	BudgetID       uuid.UUID                  `json:"budget_id"`
	TaxRate        string                     `json:"tax_rate"`
	FeesConfigured bool                       `json:"fees_configured"`
	Aggregate      payment.FinancialBreakdown `json:"aggregate"`
	Items          []ItemSettlement           `json:"items"`
}

// DispatchFailure reports a downstream order that could not be created for a
// paid item. The payment itself stands; RetryDispatch can be used later.
type DispatchFailure struct {
	ItemIndex  int       `json:"item_index"`
	LineItemID uuid.UUID `json:"line_item_id"`
	Error      string    `json:"error"`
}

// PaymentResult is the outcome of PayItem and PaySelectedItems
type PaymentResult struct {
	RequestID        uuid.UUID                    `json:"request_id"`
	BudgetID         uuid.UUID                    `json:"budget_id"`
	BudgetStatus     budget.BudgetStatus          `json:"budget_status"`
	FeesConfigured   bool                         `json:"fees_configured"`
	Replayed         bool                         `json:"replayed"` // the request had already been applied
	Aggregate        payment.FinancialBreakdown   `json:"aggregate"`
	Items            []ItemSettlement             `json:"items"`
	Dispatches       []fulfillment.DispatchResult `json:"dispatches"`
	DispatchFailures []DispatchFailure            `json:"dispatch_failures,omitempty"`
}
