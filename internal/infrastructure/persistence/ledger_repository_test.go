package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerTransactions(requestID, budgetID, lineItemID uuid.UUID) []*payment.LedgerTransaction {
	lc := payment.LedgerContext{
		RequestID:   requestID,
		ClinicID:    uuid.New(),
		BudgetID:    budgetID,
		LineItemID:  lineItemID,
		PatientID:   uuid.New(),
		Method:      payment.MethodCredit,
		Brand:       "visa",
		Payer:       payment.PayerInfo{Name: "Ana Souza", Document: "123.456.789-00"},
		Description: "Coroa 11",
	}
	installments := []payment.Installment{
		{Number: 1, Count: 2, DueDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Breakdown: payment.FinancialBreakdown{
			GrossAmount: 50000, TaxRate: decimal.NewFromInt(6), TaxAmount: 3000,
			CardFeeRate: decimal.RequireFromString("3.5"), CardFeeAmount: 1750,
			LocationRate: decimal.NewFromInt(10), LocationAmount: 4825, NetAmount: 40425,
		}},
		{Number: 2, Count: 2, DueDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), Breakdown: payment.FinancialBreakdown{
			GrossAmount: 50000, TaxRate: decimal.NewFromInt(6), TaxAmount: 3000,
			CardFeeRate: decimal.RequireFromString("3.5"), CardFeeAmount: 1750,
			LocationRate: decimal.NewFromInt(10), LocationAmount: 4825, NetAmount: 40425,
		}},
	}
	return payment.NewLedgerTransactions(lc, installments)
}

func TestGormLedgerRepository_AppendTransaction(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormLedgerRepository(db)
	ctx := context.Background()

	requestID, budgetID, lineItemID := uuid.New(), uuid.New(), uuid.New()
	txs := ledgerTransactions(requestID, budgetID, lineItemID)

	for _, tx := range txs {
		id, err := repo.AppendTransaction(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, tx.ID, id)
	}

	stored, err := repo.FindByBudget(ctx, budgetID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].InstallmentNumber)
	assert.Equal(t, int64(40425), stored[0].Breakdown.NetAmount)
	assert.True(t, stored[0].Breakdown.CardFeeRate.Equal(decimal.RequireFromString("3.5")))
	assert.True(t, stored[0].Breakdown.IsBalanced())
	assert.Equal(t, "Ana Souza", stored[1].Payer.Name)
}

func TestGormLedgerRepository_AppendTransaction_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormLedgerRepository(db)
	ctx := context.Background()

	requestID, budgetID, lineItemID := uuid.New(), uuid.New(), uuid.New()
	first := ledgerTransactions(requestID, budgetID, lineItemID)
	for _, tx := range first {
		_, err := repo.AppendTransaction(ctx, tx)
		require.NoError(t, err)
	}

	// A retry of the same request builds new ids for the same rows.
	retry := ledgerTransactions(requestID, budgetID, lineItemID)
	for i, tx := range retry {
		id, err := repo.AppendTransaction(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, first[i].ID, id, "existing row id is returned")
	}

	stored, err := repo.FindByBudget(ctx, budgetID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// A different request for the same item is a different payment.
	other := ledgerTransactions(uuid.New(), budgetID, lineItemID)
	_, err = repo.AppendTransaction(ctx, other[0])
	require.NoError(t, err)
	stored, err = repo.FindByBudget(ctx, budgetID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestGormLedgerRepository_AppendTransaction_Invalid(t *testing.T) {
	repo := NewGormLedgerRepository(setupTestDB(t))

	_, err := repo.AppendTransaction(context.Background(), &payment.LedgerTransaction{LineItemID: uuid.New(), InstallmentNumber: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
