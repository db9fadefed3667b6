package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormOrderRegistry(t *testing.T) {
	db := setupTestDB(t)
	registry := NewGormOrderRegistry(db)
	ctx := context.Background()

	budgetID, lineItemID := uuid.New(), uuid.New()

	exists, err := registry.Exists(ctx, budgetID, lineItemID, fulfillment.OrderKindLabOrder)
	require.NoError(t, err)
	assert.False(t, exists)

	record := &fulfillment.OrderRecord{
		ClinicID:   uuid.New(),
		BudgetID:   budgetID,
		LineItemID: lineItemID,
		Kind:       fulfillment.OrderKindLabOrder,
		ExternalID: "lab-77",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, registry.Record(ctx, record))
	assert.NotEqual(t, uuid.Nil, record.ID)

	exists, err = registry.Exists(ctx, budgetID, lineItemID, fulfillment.OrderKindLabOrder)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = registry.Exists(ctx, budgetID, lineItemID, fulfillment.OrderKindOrthoCase)
	require.NoError(t, err)
	assert.False(t, exists, "kinds are tracked separately")

	dup := *record
	dup.ID = uuid.Nil
	dup.ExternalID = "lab-78"
	err = registry.Record(ctx, &dup)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	records, err := registry.FindByBudget(ctx, budgetID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "lab-77", records[0].ExternalID)
}
