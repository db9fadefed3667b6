package models

import (
	"time"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerTransactionModel is the persistence model for an appended ledger row.
// The breakdown is flattened into columns so the ledger can be reconciled in SQL.
type LedgerTransactionModel struct {
	ID                 uuid.UUID             `gorm:"type:uuid;primaryKey"`
	RequestID          uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_request_item_installment,priority:1"`
	LineItemID         uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_request_item_installment,priority:2"`
	InstallmentNumber  int                   `gorm:"not null;uniqueIndex:idx_ledger_request_item_installment,priority:3"`
	InstallmentCount   int                   `gorm:"not null"`
	ClinicID           uuid.UUID             `gorm:"type:uuid;not null;index"`
	BudgetID           uuid.UUID             `gorm:"type:uuid;not null;index"`
	PatientID          uuid.UUID             `gorm:"type:uuid;not null;index"`
	Method             payment.PaymentMethod `gorm:"type:varchar(20);not null"`
	Brand              string                `gorm:"type:varchar(60)"`
	DueDate            time.Time             `gorm:"not null;index"`
	GrossAmount        int64                 `gorm:"not null"`
	TaxRate            decimal.Decimal       `gorm:"type:decimal(9,4);not null"`
	TaxAmount          int64                 `gorm:"not null"`
	CardFeeRate        decimal.Decimal       `gorm:"type:decimal(9,4);not null"`
	CardFeeAmount      int64                 `gorm:"not null"`
	AnticipationRate   decimal.Decimal       `gorm:"type:decimal(9,4);not null"`
	AnticipationAmount int64                 `gorm:"not null"`
	LocationRate       decimal.Decimal       `gorm:"type:decimal(9,4);not null"`
	LocationAmount     int64                 `gorm:"not null"`
	NetAmount          int64                 `gorm:"not null"`
	IsAnticipated      bool                  `gorm:"not null"`
	PayerName          string                `gorm:"type:varchar(200)"`
	PayerDocument      string                `gorm:"type:varchar(30)"`
	Description        string                `gorm:"type:text"`
	CreatedAt          time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LedgerTransactionModel) TableName() string {
	return "ledger_transactions"
}

// LedgerTransactionModelFromDomain creates a persistence model from a domain transaction
func LedgerTransactionModelFromDomain(tx *payment.LedgerTransaction) *LedgerTransactionModel {
	b := tx.Breakdown
	return &LedgerTransactionModel{
		ID:                 tx.ID,
		RequestID:          tx.RequestID,
		LineItemID:         tx.LineItemID,
		InstallmentNumber:  tx.InstallmentNumber,
		InstallmentCount:   tx.InstallmentCount,
		ClinicID:           tx.ClinicID,
		BudgetID:           tx.BudgetID,
		PatientID:          tx.PatientID,
		Method:             tx.Method,
		Brand:              tx.Brand,
		DueDate:            tx.DueDate,
		GrossAmount:        b.GrossAmount,
		TaxRate:            b.TaxRate,
		TaxAmount:          b.TaxAmount,
		CardFeeRate:        b.CardFeeRate,
		CardFeeAmount:      b.CardFeeAmount,
		AnticipationRate:   b.AnticipationRate,
		AnticipationAmount: b.AnticipationAmount,
		LocationRate:       b.LocationRate,
		LocationAmount:     b.LocationAmount,
		NetAmount:          b.NetAmount,
		IsAnticipated:      b.IsAnticipated,
		PayerName:          tx.Payer.Name,
		PayerDocument:      tx.Payer.Document,
		Description:        tx.Description,
		CreatedAt:          tx.CreatedAt,
	}
}

// ToDomain converts the persistence model to a domain LedgerTransaction
func (m *LedgerTransactionModel) ToDomain() *payment.LedgerTransaction {
	return &payment.LedgerTransaction{
		ID:                m.ID,
		RequestID:         m.RequestID,
		ClinicID:          m.ClinicID,
		BudgetID:          m.BudgetID,
		LineItemID:        m.LineItemID,
		PatientID:         m.PatientID,
		Method:            m.Method,
		Brand:             m.Brand,
		InstallmentNumber: m.InstallmentNumber,
		InstallmentCount:  m.InstallmentCount,
		DueDate:           m.DueDate,
		Breakdown: payment.FinancialBreakdown{
			GrossAmount:        m.GrossAmount,
			TaxRate:            m.TaxRate,
			TaxAmount:          m.TaxAmount,
			CardFeeRate:        m.CardFeeRate,
			CardFeeAmount:      m.CardFeeAmount,
			AnticipationRate:   m.AnticipationRate,
			AnticipationAmount: m.AnticipationAmount,
			LocationRate:       m.LocationRate,
			LocationAmount:     m.LocationAmount,
			NetAmount:          m.NetAmount,
			IsAnticipated:      m.IsAnticipated,
		},
		Payer:       payment.PayerInfo{Name: m.PayerName, Document: m.PayerDocument},
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
}
