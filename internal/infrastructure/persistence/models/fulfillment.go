package models

import (
	"time"

	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/google/uuid"
)

// OrderRecordModel records a downstream order created for a paid line item.
// The unique index is the last line of defence against a duplicate order.
type OrderRecordModel struct {
	ID         uuid.UUID             `gorm:"type:uuid;primaryKey"`
	ClinicID   uuid.UUID             `gorm:"type:uuid;not null;index"`
	BudgetID   uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_order_budget_item_kind,priority:1"`
	LineItemID uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_order_budget_item_kind,priority:2"`
	Kind       fulfillment.OrderKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_order_budget_item_kind,priority:3"`
	ExternalID string                `gorm:"type:varchar(100);not null"`
	CreatedAt  time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderRecordModel) TableName() string {
	return "fulfillment_orders"
}

// OrderRecordModelFromDomain creates a persistence model from a domain record
func OrderRecordModelFromDomain(r *fulfillment.OrderRecord) *OrderRecordModel {
	return &OrderRecordModel{
		ID:         r.ID,
		ClinicID:   r.ClinicID,
		BudgetID:   r.BudgetID,
		LineItemID: r.LineItemID,
		Kind:       r.Kind,
		ExternalID: r.ExternalID,
		CreatedAt:  r.CreatedAt,
	}
}

// ToDomain converts the persistence model to a domain OrderRecord
func (m *OrderRecordModel) ToDomain() fulfillment.OrderRecord {
	return fulfillment.OrderRecord{
		ID:         m.ID,
		ClinicID:   m.ClinicID,
		BudgetID:   m.BudgetID,
		LineItemID: m.LineItemID,
		Kind:       m.Kind,
		ExternalID: m.ExternalID,
		CreatedAt:  m.CreatedAt,
	}
}

// AllModels lists every model owned by this service, for test schemas
func AllModels() []any {
	return []any{
		&BudgetModel{},
		&LedgerTransactionModel{},
		&FeeConfigModel{},
		&TaxRateModel{},
		&OrderRecordModel{},
	}
}
