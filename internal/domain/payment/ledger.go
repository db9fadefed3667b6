package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PayerInfo identifies who paid, as captured at the payment desk
type PayerInfo struct {
	Name     string `json:"name,omitempty"`
	Document string `json:"document,omitempty"`
}

// LedgerTransaction is an append-only financial record: one per installment per
// paid line item. (RequestID, LineItemID, InstallmentNumber) is unique, which lets
// a retried payment append the same rows again without duplicating them.
type LedgerTransaction struct {
	ID                uuid.UUID          `json:"id"`
	RequestID         uuid.UUID          `json:"request_id"`
	ClinicID          uuid.UUID          `json:"clinic_id"`
	BudgetID          uuid.UUID          `json:"budget_id"`
	LineItemID        uuid.UUID          `json:"line_item_id"`
	PatientID         uuid.UUID          `json:"patient_id"`
	Method            PaymentMethod      `json:"method"`
	Brand             string             `json:"brand,omitempty"`
	InstallmentNumber int                `json:"installment_number"`
	InstallmentCount  int                `json:"installment_count"`
	DueDate           time.Time          `json:"due_date"`
	Breakdown         FinancialBreakdown `json:"breakdown"`
	Payer             PayerInfo          `json:"payer"`
	Description       string             `json:"description,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// LedgerSink appends transactions to the financial ledger.
// AppendTransaction is idempotent on (RequestID, LineItemID, InstallmentNumber):
// appending a row whose key already exists returns the existing row's id.
type LedgerSink interface {
	AppendTransaction(ctx context.Context, tx *LedgerTransaction) (uuid.UUID, error)
}

// LedgerContext carries the fields shared by every transaction of one paid item
type LedgerContext struct {
	RequestID   uuid.UUID
	ClinicID    uuid.UUID
	BudgetID    uuid.UUID
	LineItemID  uuid.UUID
	PatientID   uuid.UUID
	Method      PaymentMethod
	Brand       string
	Payer       PayerInfo
	Description string
}

// NewLedgerTransactions builds one transaction per installment
func NewLedgerTransactions(lc LedgerContext, installments []Installment) []*LedgerTransaction {
	now := time.Now()
	txs := make([]*LedgerTransaction, len(installments))
	for i, inst := range installments {
		txs[i] = &LedgerTransaction{
			ID:                uuid.New(),
			RequestID:         lc.RequestID,
			ClinicID:          lc.ClinicID,
			BudgetID:          lc.BudgetID,
			LineItemID:        lc.LineItemID,
			PatientID:         lc.PatientID,
			Method:            lc.Method,
			Brand:             lc.Brand,
			InstallmentNumber: inst.Number,
			InstallmentCount:  inst.Count,
			DueDate:           inst.DueDate,
			Breakdown:         inst.Breakdown,
			Payer:             lc.Payer,
			Description:       lc.Description,
			CreatedAt:         now,
		}
	}
	return txs
}
