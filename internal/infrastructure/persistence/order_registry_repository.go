package persistence

import (
	"context"
	"fmt"

	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRegistry implements fulfillment.OrderRegistry using GORM
type GormOrderRegistry struct {
	db *gorm.DB
}

// NewGormOrderRegistry creates a new GormOrderRegistry
func NewGormOrderRegistry(db *gorm.DB) *GormOrderRegistry {
	return &GormOrderRegistry{db: db}
}

// Exists reports whether an order of kind was recorded for the line item
func (r *GormOrderRegistry) Exists(ctx context.Context, budgetID, lineItemID uuid.UUID, kind fulfillment.OrderKind) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.OrderRecordModel{}).
		Where("budget_id = ? AND line_item_id = ? AND kind = ?", budgetID, lineItemID, kind).
		Count(&count).Error; err != nil {
		return false, persistenceError("check order record", err)
	}
	return count > 0, nil
}

// Record stores the record; a second record for the same item and kind is a conflict
func (r *GormOrderRegistry) Record(ctx context.Context, record *fulfillment.OrderRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "budget_id"}, {Name: "line_item_id"}, {Name: "kind"}},
			DoNothing: true,
		}).
		Create(models.OrderRecordModelFromDomain(record))
	if result.Error != nil {
		return persistenceError("record order", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError(shared.CodeConcurrencyConflict,
			fmt.Sprintf("%s already recorded for line item %s", record.Kind, record.LineItemID))
	}
	return nil
}

// FindByBudget lists the orders recorded for a budget
func (r *GormOrderRegistry) FindByBudget(ctx context.Context, budgetID uuid.UUID) ([]fulfillment.OrderRecord, error) {
	var rows []models.OrderRecordModel
	if err := r.db.WithContext(ctx).
		Where("budget_id = ?", budgetID).
		Order("created_at").
		Find(&rows).Error; err != nil {
		return nil, persistenceError("list order records", err)
	}
	records := make([]fulfillment.OrderRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

var _ fulfillment.OrderRegistry = (*GormOrderRegistry)(nil)
