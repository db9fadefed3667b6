package budget

import (
	"context"

	"github.com/google/uuid"
)

// BudgetRepository defines the interface for budget persistence
type BudgetRepository interface {
	// FindByID finds a budget by ID. Returns shared.ErrNotFound if it does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*Budget, error)

	// FindByPatient lists a patient's budgets, newest first
	FindByPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]Budget, error)

	// Save creates or updates a budget
	Save(ctx context.Context, budget *Budget) error

	// SaveWithLock updates a budget only if its stored version still matches;
	// returns shared.ErrConcurrencyConflict otherwise. The version is incremented on success.
	SaveWithLock(ctx context.Context, budget *Budget) error
}
