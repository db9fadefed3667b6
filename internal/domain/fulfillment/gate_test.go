package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderDispatcher struct {
	mock.Mock
}

func (m *MockOrderDispatcher) CreateLabOrder(ctx context.Context, spec LabOrderSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockOrderDispatcher) CreateOrthoCase(ctx context.Context, spec OrthoCaseSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

type memoryRegistry struct {
	mu        sync.Mutex
	records   map[string]OrderRecord
	recordErr error
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{records: make(map[string]OrderRecord)}
}

func (r *memoryRegistry) Exists(_ context.Context, budgetID, lineItemID uuid.UUID, kind OrderKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[ClaimKey(budgetID, lineItemID, kind)]
	return ok, nil
}

func (r *memoryRegistry) Record(_ context.Context, rec *OrderRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	key := ClaimKey(rec.BudgetID, rec.LineItemID, rec.Kind)
	if _, ok := r.records[key]; ok {
		return shared.ErrConcurrencyConflict
	}
	r.records[key] = *rec
	return nil
}

func (r *memoryRegistry) FindByBudget(_ context.Context, budgetID uuid.UUID) ([]OrderRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OrderRecord
	for _, rec := range r.records {
		if rec.BudgetID == budgetID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{keys: make(map[string]bool)}
}

func (c *memoryClaims) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memoryClaims) Held(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *memoryClaims) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}


func paidBudget(t *testing.T, items ...budget.LineItemInput) *budget.Budget {
	t.Helper()
	b, err := budget.NewBudget(uuid.New(), uuid.New(), time.Now(), items, "")
	require.NoError(t, err)
	indices := make([]int, len(items))
	for i := range items {
		indices[i] = i
	}
	_, err = b.ApproveItems(indices)
	require.NoError(t, err)
	for i := range items {
		require.NoError(t, b.MarkItemPaid(i, budget.PaymentRecord{
			RequestID: uuid.New(),
			Method:    payment.MethodPix,
			PaidAt:    time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
		}))
	}
	return b
}

func labItem(flagged bool) budget.LineItemInput {
	return budget.LineItemInput{
		Target:         "21",
		Treatments:     []string{"Coroa de porcelana", "Limpeza"},
		Values:         map[string]int64{"Coroa de porcelana": 120000, "Limpeza": 15000},
		Faces:          []string{"V", "L"},
		Materials:      map[string]string{"Coroa de porcelana": "e.max"},
		LabFulfillment: map[string]bool{"Coroa de porcelana": flagged},
		LabNames:       map[string]string{"Coroa de porcelana": "Lab Sorriso"},
		LocationRate:   decimal.NewFromInt(10),
	}
}

func orthoItem() budget.LineItemInput {
	return budget.LineItemInput{
		Target:     "arcada superior",
		Treatments: []string{"Aparelho ortodôntico fixo"},
		Values:     map[string]int64{"Aparelho ortodôntico fixo": 250000},
	}
}

func TestPlanFor(t *testing.T) {
	b := paidBudget(t, labItem(true), labItem(false), orthoItem())

	plan := PlanFor(b, &b.Items[0])
	require.NotNil(t, plan.LabOrder)
	assert.Nil(t, plan.OrthoCase)
	assert.Equal(t, []string{"Coroa de porcelana"}, plan.LabOrder.Treatments)
	assert.Equal(t, int64(120000), plan.LabOrder.Price)
	assert.Equal(t, "Lab Sorriso", plan.LabOrder.LabName)
	assert.Equal(t, "e.max", plan.LabOrder.Materials["Coroa de porcelana"])
	assert.Equal(t, b.Items[0].ID, plan.LabOrder.LineItemID)
	assert.Equal(t, b.PatientID, plan.LabOrder.PatientID)

	assert.True(t, PlanFor(b, &b.Items[1]).IsEmpty(), "lab treatment without the lab flag needs no order")

	ortho := PlanFor(b, &b.Items[2])
	assert.Nil(t, ortho.LabOrder)
	require.NotNil(t, ortho.OrthoCase)
	assert.Equal(t, int64(250000), ortho.OrthoCase.Price)
}

func TestGate_DispatchCreatesOnce(t *testing.T) {
	ctx := context.Background()
	b := paidBudget(t, labItem(true))
	dispatcher := new(MockOrderDispatcher)
	dispatcher.On("CreateLabOrder", ctx, mock.AnythingOfType("fulfillment.LabOrderSpec")).Return("LAB-1", nil).Once()
	registry := newMemoryRegistry()
	gate := NewGate(dispatcher, registry, newMemoryClaims(), time.Hour)

	result, err := gate.Dispatch(ctx, b, 0)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, OutcomeCreated, result.Outcomes[0].Status)
	assert.Equal(t, "LAB-1", result.Outcomes[0].ExternalID)

	result, err = gate.Dispatch(ctx, b, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDispatched, result.Outcomes[0].Status)

	dispatcher.AssertNumberOfCalls(t, "CreateLabOrder", 1)
	records, _ := registry.FindByBudget(ctx, b.ID)
	assert.Len(t, records, 1)
}

func TestGate_ConcurrentDispatchCreatesOnce(t *testing.T) {
	ctx := context.Background()
	b := paidBudget(t, orthoItem())
	dispatcher := new(MockOrderDispatcher)
	dispatcher.On("CreateOrthoCase", ctx, mock.Anything).Return("ORTHO-1", nil)
	gate := NewGate(dispatcher, newMemoryRegistry(), newMemoryClaims(), time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Dispatch(ctx, b, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	dispatcher.AssertNumberOfCalls(t, "CreateOrthoCase", 1)
}

func TestGate_HeldClaimSkips(t *testing.T) {
	ctx := context.Background()
	b := paidBudget(t, labItem(true))
	claims := newMemoryClaims()
	_, _ = claims.Claim(ctx, ClaimKey(b.ID, b.Items[0].ID, OrderKindLabOrder), time.Hour)
	dispatcher := new(MockOrderDispatcher)
	gate := NewGate(dispatcher, newMemoryRegistry(), claims, time.Hour)

	result, err := gate.Dispatch(ctx, b, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, result.Outcomes[0].Status)
	dispatcher.AssertNotCalled(t, "CreateLabOrder", mock.Anything, mock.Anything)
}

func TestGate_DispatcherFailureReleasesClaim(t *testing.T) {
	ctx := context.Background()
	b := paidBudget(t, labItem(true))
	claims := newMemoryClaims()
	dispatcher := new(MockOrderDispatcher)
	dispatcher.On("CreateLabOrder", ctx, mock.Anything).Return("", errors.New("broker unavailable")).Once()
	dispatcher.On("CreateLabOrder", ctx, mock.Anything).Return("LAB-2", nil).Once()
	gate := NewGate(dispatcher, newMemoryRegistry(), claims, time.Hour)

	result, err := gate.Dispatch(ctx, b, 0)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcomes[0].Status)
	held, _ := claims.Held(ctx, ClaimKey(b.ID, b.Items[0].ID, OrderKindLabOrder))
	assert.False(t, held)

	result, err = gate.Dispatch(ctx, b, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcomes[0].Status)
	assert.Equal(t, "LAB-2", result.Outcomes[0].ExternalID)
}

func TestGate_RecordFailureKeepsClaim(t *testing.T) {
	ctx := context.Background()
	b := paidBudget(t, labItem(true))
	claims := newMemoryClaims()
	registry := newMemoryRegistry()
	registry.recordErr = errors.New("disk full")
	dispatcher := new(MockOrderDispatcher)
	dispatcher.On("CreateLabOrder", ctx, mock.Anything).Return("LAB-3", nil).Once()
	gate := NewGate(dispatcher, registry, claims, time.Hour)

	result, err := gate.Dispatch(ctx, b, 0)
	assert.ErrorIs(t, err, shared.ErrPersistenceFailure)
	assert.Equal(t, "LAB-3", result.Outcomes[0].ExternalID)

	result, err = gate.Dispatch(ctx, b, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, result.Outcomes[0].Status)
	dispatcher.AssertNumberOfCalls(t, "CreateLabOrder", 1)
}

func TestGate_Status(t *testing.T) {
	ctx := context.Background()
	b := paidBudget(t, labItem(true))
	key := ClaimKey(b.ID, b.Items[0].ID, OrderKindLabOrder)
	claims := newMemoryClaims()
	dispatcher := new(MockOrderDispatcher)
	gate := NewGate(dispatcher, newMemoryRegistry(), claims, time.Hour)

	result, err := gate.Status(ctx, b, 0)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, OutcomePending, result.Outcomes[0].Status)

	_, _ = claims.Claim(ctx, key, time.Hour)
	result, err = gate.Status(ctx, b, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, result.Outcomes[0].Status)

	require.NoError(t, claims.Release(ctx, key))
	dispatcher.On("CreateLabOrder", ctx, mock.Anything).Return("LAB-4", nil).Once()
	_, err = gate.Dispatch(ctx, b, 0)
	require.NoError(t, err)

	result, err = gate.Status(ctx, b, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDispatched, result.Outcomes[0].Status)
	dispatcher.AssertNumberOfCalls(t, "CreateLabOrder", 1)
}

func TestGate_StatusWithoutClaims(t *testing.T) {
	b := paidBudget(t, labItem(false))
	gate := NewGate(new(MockOrderDispatcher), newMemoryRegistry(), nil, 0)

	result, err := gate.Status(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes, "no lab flag, nothing to dispatch")

	unpaid, err := budget.NewBudget(uuid.New(), uuid.New(), time.Now(), []budget.LineItemInput{labItem(true)}, "")
	require.NoError(t, err)
	_, err = gate.Status(context.Background(), unpaid, 0)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestGate_RequiresPaidItem(t *testing.T) {
	b, err := budget.NewBudget(uuid.New(), uuid.New(), time.Now(), []budget.LineItemInput{labItem(true)}, "")
	require.NoError(t, err)
	gate := NewGate(new(MockOrderDispatcher), newMemoryRegistry(), nil, 0)

	_, err = gate.Dispatch(context.Background(), b, 0)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = gate.Dispatch(context.Background(), b, 3)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGate_NoOrderNeeded(t *testing.T) {
	b := paidBudget(t, labItem(false))
	dispatcher := new(MockOrderDispatcher)
	gate := NewGate(dispatcher, newMemoryRegistry(), nil, 0)

	result, err := gate.Dispatch(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)
	dispatcher.AssertNotCalled(t, "CreateLabOrder", mock.Anything, mock.Anything)
}
