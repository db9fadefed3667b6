package dto

import (
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItemRequest is one line item of a new budget. Values are minor units
// keyed by treatment label.
type LineItemRequest struct {
	Target         string            `json:"target" binding:"required,max=50"`
	Treatments     []string          `json:"treatments" binding:"required,min=1,dive,required,max=200"`
	Values         map[string]int64  `json:"values" binding:"required"`
	Faces          []string          `json:"faces"`
	Materials      map[string]string `json:"materials"`
	LabFulfillment map[string]bool   `json:"lab_fulfillment"`
	LabNames       map[string]string `json:"lab_names"`
	LocationRate   decimal.Decimal   `json:"location_rate" binding:"gte=0,lte=100"`
}

// CreateBudgetRequest creates a budget for a patient of the calling clinic
type CreateBudgetRequest struct {
	PatientID string            `json:"patient_id" binding:"required,uuid"`
	Date      time.Time         `json:"date" binding:"required"`
	Notes     string            `json:"notes" binding:"max=2000"`
	Items     []LineItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ToLineItemInputs converts the request items to domain inputs
func (r CreateBudgetRequest) ToLineItemInputs() []budget.LineItemInput {
	inputs := make([]budget.LineItemInput, len(r.Items))
	for i, item := range r.Items {
		inputs[i] = budget.LineItemInput{
			Target:         item.Target,
			Treatments:     item.Treatments,
			Values:         item.Values,
			Faces:          item.Faces,
			Materials:      item.Materials,
			LabFulfillment: item.LabFulfillment,
			LabNames:       item.LabNames,
			LocationRate:   item.LocationRate,
		}
	}
	return inputs
}

// ItemIndicesRequest selects items of a budget by position
type ItemIndicesRequest struct {
	ItemIndices []int `json:"item_indices" binding:"required,min=1,dive,gte=0"`
}

// PayerRequest identifies who paid
type PayerRequest struct {
	Name     string `json:"name" binding:"max=200"`
	Document string `json:"document" binding:"max=30"`
}

// PaymentTermsRequest is how a payment is made. RequestID may also be sent in
// the Idempotency-Key header.
type PaymentTermsRequest struct {
	RequestID    string       `json:"request_id" binding:"omitempty,uuid"`
	Method       string       `json:"method" binding:"required,oneof=cash pix bank_transfer credit debit"`
	Installments int          `json:"installments" binding:"gte=0,lte=24"`
	Brand        string       `json:"brand" binding:"max=50"`
	Anticipate   bool         `json:"anticipate"`
	Payer        PayerRequest `json:"payer"`
	Description  string       `json:"description" binding:"max=500"`
}

// PayItemRequest pays the item named in the path
type PayItemRequest struct {
	PaymentTermsRequest
}

// PaySelectedItemsRequest pays several items with one payment action
type PaySelectedItemsRequest struct {
	ItemIndices  []int `json:"item_indices" binding:"required,min=1,dive,gte=0"`
	ApproveFirst bool  `json:"approve_first"`
	PaymentTermsRequest
}

// PreviewPaymentRequest asks for a breakdown without registering anything
type PreviewPaymentRequest struct {
	ItemIndices []int `json:"item_indices" binding:"required,min=1,dive,gte=0"`
	PaymentTermsRequest
}

// FeeConfigRequest creates or replaces one card fee row
type FeeConfigRequest struct {
	Brand            string           `json:"brand" binding:"required,max=50"`
	PaymentType      string           `json:"payment_type" binding:"required,oneof=credit debit"`
	Installments     int              `json:"installments" binding:"required,gte=1,lte=24"`
	Rate             decimal.Decimal  `json:"rate" binding:"gte=0,lte=100"`
	AnticipationRate *decimal.Decimal `json:"anticipation_rate" binding:"omitempty,gte=0,lte=100"`
}

// FeeLookupQuery names the fee row a payment would use
type FeeLookupQuery struct {
	Brand        string `form:"brand" binding:"required"`
	PaymentType  string `form:"payment_type" binding:"required,oneof=credit debit"`
	Installments int    `form:"installments" binding:"omitempty,gte=1,lte=24"`
}

// TaxRateRequest adds a tax to the calling clinic
type TaxRateRequest struct {
	Name          string          `json:"name" binding:"required,max=100"`
	Rate          decimal.Decimal `json:"rate" binding:"gte=0,lte=100"`
	EffectiveFrom time.Time       `json:"effective_from" binding:"required"`
	EffectiveTo   *time.Time      `json:"effective_to"`
}

// TaxRateResponse is the combined rate in force for a clinic
type TaxRateResponse struct {
	ClinicID uuid.UUID       `json:"clinic_id"`
	Rate     decimal.Decimal `json:"rate"`
}

// BudgetResponse is the API view of a budget
type BudgetResponse struct {
	ID        uuid.UUID           `json:"id"`
	ClinicID  uuid.UUID           `json:"clinic_id"`
	PatientID uuid.UUID           `json:"patient_id"`
	Date      time.Time           `json:"date"`
	Value     int64               `json:"value"`
	Status    budget.BudgetStatus `json:"status"`
	Notes     string              `json:"notes,omitempty"`
	Items     []budget.LineItem   `json:"items"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ToBudgetResponse converts a budget to its API view
func ToBudgetResponse(b *budget.Budget) BudgetResponse {
	return BudgetResponse{
		ID:        b.ID,
		ClinicID:  b.ClinicID,
		PatientID: b.PatientID,
		Date:      b.Date,
		Value:     b.Value,
		Status:    b.Status,
		Notes:     b.Notes,
		Items:     b.Items,
		Version:   b.Version,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

// ToBudgetResponses converts a list of budgets
func ToBudgetResponses(list []budget.Budget) []BudgetResponse {
	out := make([]BudgetResponse, len(list))
	for i := range list {
		out[i] = ToBudgetResponse(&list[i])
	}
	return out
}

// PaymentMethod converts the validated method string
func (r PaymentTermsRequest) PaymentMethod() payment.PaymentMethod {
	return payment.PaymentMethod(r.Method)
}
