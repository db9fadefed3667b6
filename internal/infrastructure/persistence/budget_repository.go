package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBudgetRepository implements budget.BudgetRepository using GORM
type GormBudgetRepository struct {
	db *gorm.DB
}

// NewGormBudgetRepository creates a new GormBudgetRepository
func NewGormBudgetRepository(db *gorm.DB) *GormBudgetRepository {
	return &GormBudgetRepository{db: db}
}

// FindByID finds a budget by its ID. When ctx acts for a clinic, budgets of
// other clinics are not found.
func (r *GormBudgetRepository) FindByID(ctx context.Context, id uuid.UUID) (*budget.Budget, error) {
	var model models.BudgetModel
	err := r.db.WithContext(ctx).Scopes(ContextClinicScope(ctx)).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("budget %s not found", id))
		}
		return nil, persistenceError("load budget", err)
	}
	return model.ToDomain(), nil
}

// FindByPatient lists a patient's budgets, newest first
func (r *GormBudgetRepository) FindByPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]budget.Budget, error) {
	var rows []models.BudgetModel
	if err := r.db.WithContext(ctx).
		Scopes(ClinicScope(clinicID)).
		Where("patient_id = ?", patientID).
		Order("date DESC, created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, persistenceError("list budgets", err)
	}
	budgets := make([]budget.Budget, len(rows))
	for i := range rows {
		budgets[i] = *rows[i].ToDomain()
	}
	return budgets, nil
}

// Save inserts or fully overwrites a budget without a version check
func (r *GormBudgetRepository) Save(ctx context.Context, b *budget.Budget) error {
	if err := r.db.WithContext(ctx).Save(models.BudgetModelFromDomain(b)).Error; err != nil {
		return persistenceError("save budget", err)
	}
	return nil
}

// SaveWithLock updates the budget only if the stored version equals b.Version,
// then bumps the version in both the row and b
func (r *GormBudgetRepository) SaveWithLock(ctx context.Context, b *budget.Budget) error {
	model := models.BudgetModelFromDomain(b)
	updatedAt := time.Now()

	result := r.db.WithContext(ctx).
		Model(&models.BudgetModel{}).
		Scopes(ContextClinicScope(ctx)).
		Where("id = ? AND version = ?", b.ID, b.Version).
		Updates(map[string]any{
			"status":     model.Status,
			"items":      model.Items,
			"value":      model.Value,
			"notes":      model.Notes,
			"version":    b.Version + 1,
			"updated_at": updatedAt,
		})
	if result.Error != nil {
		return persistenceError("update budget", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError(shared.CodeConcurrencyConflict,
			fmt.Sprintf("budget %s was modified by another request (version %d)", b.ID, b.Version))
	}
	b.Version++
	b.UpdatedAt = updatedAt
	return nil
}

func persistenceError(op string, err error) error {
	return shared.WrapDomainError(shared.CodePersistenceFailure, fmt.Sprintf("failed to %s", op), err)
}

var _ budget.BudgetRepository = (*GormBudgetRepository)(nil)
