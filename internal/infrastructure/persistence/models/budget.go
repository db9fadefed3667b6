package models

import (
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/google/uuid"
)

// BudgetModel is the persistence model for the Budget aggregate root.
// Line items live in a single JSONB column so an item and its payment
// snapshot are always written together with the version bump.
type BudgetModel struct {
	AggregateModel
	ClinicID  uuid.UUID           `gorm:"type:uuid;not null;index:idx_budget_clinic_patient,priority:1"`
	PatientID uuid.UUID           `gorm:"type:uuid;not null;index:idx_budget_clinic_patient,priority:2"`
	Date      time.Time           `gorm:"not null"`
	Value     int64               `gorm:"not null"`
	Status    budget.BudgetStatus `gorm:"type:varchar(20);not null;index"`
	Items     budget.LineItems    `gorm:"type:jsonb;not null"`
	Notes     string              `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (BudgetModel) TableName() string {
	return "budgets"
}

// ToDomain converts the persistence model to a domain Budget
func (m *BudgetModel) ToDomain() *budget.Budget {
	return &budget.Budget{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		ClinicID:          m.ClinicID,
		PatientID:         m.PatientID,
		Date:              m.Date,
		Value:             m.Value,
		Status:            m.Status,
		Items:             m.Items,
		Notes:             m.Notes,
	}
}

// FromDomain populates the persistence model from a domain Budget
func (m *BudgetModel) FromDomain(b *budget.Budget) {
	m.FromDomainAggregateRoot(b.BaseAggregateRoot)
	m.ClinicID = b.ClinicID
	m.PatientID = b.PatientID
	m.Date = b.Date
	m.Value = b.Value
	m.Status = b.Status
	m.Items = b.Items
	m.Notes = b.Notes
}

// BudgetModelFromDomain creates a new persistence model from a domain Budget
func BudgetModelFromDomain(b *budget.Budget) *BudgetModel {
	m := &BudgetModel{}
	m.FromDomain(b)
	return m
}
