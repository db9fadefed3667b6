package persistence

import (
	"context"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClinicScope restricts a query to the rows of one clinic
func ClinicScope(clinicID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("clinic_id = ?", clinicID)
	}
}

// ContextClinicScope applies ClinicScope for the clinic ctx acts for, if any
func ContextClinicScope(ctx context.Context) func(db *gorm.DB) *gorm.DB {
	clinicID, ok := shared.ClinicIDFrom(ctx)
	if !ok {
		return func(db *gorm.DB) *gorm.DB { return db }
	}
	return ClinicScope(clinicID)
}

// EffectiveAt keeps rows whose [effective_from, effective_to) window contains at.
// A NULL effective_to is open ended.
func EffectiveAt(at time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)", at, at)
	}
}
