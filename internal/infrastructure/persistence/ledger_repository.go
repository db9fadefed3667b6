package persistence

import (
	"context"
	"fmt"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerRepository implements payment.LedgerSink using GORM
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// AppendTransaction inserts tx unless a row with the same request, line item and
// installment number exists, in which case the existing row's id is returned
func (r *GormLedgerRepository) AppendTransaction(ctx context.Context, tx *payment.LedgerTransaction) (uuid.UUID, error) {
	if tx.RequestID == uuid.Nil || tx.LineItemID == uuid.Nil || tx.InstallmentNumber < 1 {
		return uuid.Nil, shared.NewDomainError(shared.CodeInvalidInput, "ledger transaction requires request id, line item id and installment number")
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	model := models.LedgerTransactionModelFromDomain(tx)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "request_id"},
				{Name: "line_item_id"},
				{Name: "installment_number"},
			},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return uuid.Nil, persistenceError("append ledger transaction", result.Error)
	}
	if result.RowsAffected > 0 {
		return tx.ID, nil
	}

	var existing models.LedgerTransactionModel
	if err := r.db.WithContext(ctx).
		Select("id").
		Where("request_id = ? AND line_item_id = ? AND installment_number = ?",
			tx.RequestID, tx.LineItemID, tx.InstallmentNumber).
		First(&existing).Error; err != nil {
		return uuid.Nil, persistenceError(fmt.Sprintf("load existing ledger transaction for request %s", tx.RequestID), err)
	}
	return existing.ID, nil
}

// FindByBudget returns a budget's ledger rows ordered by line item and installment
func (r *GormLedgerRepository) FindByBudget(ctx context.Context, budgetID uuid.UUID) ([]*payment.LedgerTransaction, error) {
	var rows []models.LedgerTransactionModel
	if err := r.db.WithContext(ctx).
		Where("budget_id = ?", budgetID).
		Order("created_at, line_item_id, installment_number").
		Find(&rows).Error; err != nil {
		return nil, persistenceError("list ledger transactions", err)
	}
	txs := make([]*payment.LedgerTransaction, len(rows))
	for i := range rows {
		txs[i] = rows[i].ToDomain()
	}
	return txs, nil
}

var _ payment.LedgerSink = (*GormLedgerRepository)(nil)
