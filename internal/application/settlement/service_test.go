package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// Mocks and fakes
// =============================================================================

type MockBudgetRepository struct {
	mock.Mock
}

func (m *MockBudgetRepository) FindByID(ctx context.Context, id uuid.UUID) (*budget.Budget, error) {
	args := m.Called(ctx, id)
	if fn, ok := args.Get(0).(func(context.Context, uuid.UUID) *budget.Budget); ok {
		return fn(ctx, id), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*budget.Budget), args.Error(1)
}

func (m *MockBudgetRepository) FindByPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]budget.Budget, error) {
	args := m.Called(ctx, clinicID, patientID)
	return args.Get(0).([]budget.Budget), args.Error(1)
}

func (m *MockBudgetRepository) Save(ctx context.Context, b *budget.Budget) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockBudgetRepository) SaveWithLock(ctx context.Context, b *budget.Budget) error {
	return m.Called(ctx, b).Error(0)
}

// memLedger is an append-only ledger keyed like the real one. failFrom makes
// every append from that call number (1-based) on fail.
type memLedger struct {
	mu       sync.Mutex
	rows     []*payment.LedgerTransaction
	byKey    map[string]uuid.UUID
	calls    int
	failFrom int
}

func newMemLedger() *memLedger {
	return &memLedger{byKey: map[string]uuid.UUID{}}
}

func (l *memLedger) AppendTransaction(ctx context.Context, tx *payment.LedgerTransaction) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failFrom > 0 && l.calls >= l.failFrom {
		return uuid.Nil, errors.New("connection reset by peer")
	}
	key := fmt.Sprintf("%s/%s/%d", tx.RequestID, tx.LineItemID, tx.InstallmentNumber)
	if id, ok := l.byKey[key]; ok {
		return id, nil
	}
	l.byKey[key] = tx.ID
	l.rows = append(l.rows, tx)
	return tx.ID, nil
}

func (l *memLedger) FindByBudget(ctx context.Context, budgetID uuid.UUID) ([]*payment.LedgerTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*payment.LedgerTransaction
	for _, tx := range l.rows {
		if tx.BudgetID == budgetID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type feeTable map[string]*payment.FeeConfig

func feeKey(brand string, t payment.PaymentType, n int) string {
	return fmt.Sprintf("%s|%s|%d", brand, t, n)
}

func (f feeTable) add(brand string, t payment.PaymentType, n int, rate string, anticipation string) {
	cfg := &payment.FeeConfig{Brand: brand, PaymentType: t, Installments: n, Rate: decimal.RequireFromString(rate)}
	if anticipation != "" {
		a := decimal.RequireFromString(anticipation)
		cfg.AnticipationRate = &a
	}
	f[feeKey(brand, t, n)] = cfg
}

func (f feeTable) Lookup(ctx context.Context, brand string, t payment.PaymentType, n int) (*payment.FeeConfig, error) {
	if cfg, ok := f[feeKey(brand, t, n)]; ok {
		return cfg, nil
	}
	return nil, shared.ErrNotFound
}

type fixedTaxRate decimal.Decimal

func (r fixedTaxRate) CurrentCombinedRate(ctx context.Context, clinicID uuid.UUID) (decimal.Decimal, error) {
	return decimal.Decimal(r), nil
}

type countingDispatcher struct {
	mu    sync.Mutex
	lab   int
	ortho int
	err   error
}

func (d *countingDispatcher) CreateLabOrder(ctx context.Context, spec fulfillment.LabOrderSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.lab++
	return fmt.Sprintf("LAB-%d", d.lab), nil
}

func (d *countingDispatcher) CreateOrthoCase(ctx context.Context, spec fulfillment.OrthoCaseSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.ortho++
	return fmt.Sprintf("ORTHO-%d", d.ortho), nil
}

type memRegistry struct {
	mu      sync.Mutex
	records []fulfillment.OrderRecord
}

func (r *memRegistry) Exists(ctx context.Context, budgetID, lineItemID uuid.UUID, kind fulfillment.OrderKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.BudgetID == budgetID && rec.LineItemID == lineItemID && rec.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRegistry) Record(ctx context.Context, record *fulfillment.OrderRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *record)
	return nil
}

func (r *memRegistry) FindByBudget(ctx context.Context, budgetID uuid.UUID) ([]fulfillment.OrderRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []fulfillment.OrderRecord
	for _, rec := range r.records {
		if rec.BudgetID == budgetID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// =============================================================================
// Fixture
// =============================================================================

var fixedNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

type fixture struct {
	repo       *MockBudgetRepository
	ledger     *memLedger
	fees       feeTable
	dispatcher *countingDispatcher
	registry   *memRegistry
	events     *recordingPublisher
	svc        *SettlementService
}

func newFixture(t *testing.T, taxRate string) *fixture {
	t.Helper()
	f := &fixture{
		repo:       new(MockBudgetRepository),
		ledger:     newMemLedger(),
		fees:       feeTable{},
		dispatcher: &countingDispatcher{},
		registry:   &memRegistry{},
		events:     &recordingPublisher{},
	}
	gate := fulfillment.NewGate(f.dispatcher, f.registry, nil, time.Hour)
	f.svc = NewSettlementService(
		f.repo,
		f.ledger,
		f.fees,
		fixedTaxRate(decimal.RequireFromString(taxRate)),
		f.registry,
		gate,
		zap.NewNop(),
		WithEventPublisher(f.events),
		WithClock(func() time.Time { return fixedNow }),
		WithMaxConflictRetries(2),
	)
	return f
}

type itemSpec struct {
	treatment string
	value     int64
	location  string
	lab       bool
}

func newBudget(t *testing.T, date time.Time, specs ...itemSpec) *budget.Budget {
	t.Helper()
	inputs := make([]budget.LineItemInput, len(specs))
	for i, s := range specs {
		inputs[i] = budget.LineItemInput{
			Target:         fmt.Sprintf("%d", 11+i),
			Treatments:     []string{s.treatment},
			Values:         map[string]int64{s.treatment: s.value},
			LabFulfillment: map[string]bool{s.treatment: s.lab},
			LocationRate:   decimal.RequireFromString(s.location),
		}
	}
	b, err := budget.NewBudget(uuid.New(), uuid.New(), date, inputs, "")
	require.NoError(t, err)
	b.PullDomainEvents()
	return b
}

func approvedBudget(t *testing.T, date time.Time, specs ...itemSpec) *budget.Budget {
	t.Helper()
	b := newBudget(t, date, specs...)
	indices := make([]int, len(specs))
	for i := range indices {
		indices[i] = i
	}
	_, err := b.ApproveItems(indices)
	require.NoError(t, err)
	b.PullDomainEvents()
	return b
}

func cloneBudget(b *budget.Budget) *budget.Budget {
	c := *b
	c.Items = append(budget.LineItems(nil), b.Items...)
	for i := range c.Items {
		if p := b.Items[i].Payment; p != nil {
			cp := *p
			c.Items[i].Payment = &cp
		}
	}
	c.PullDomainEvents()
	return &c
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var de *shared.DomainError
	require.True(t, errors.As(err, &de), "expected domain error, got %v", err)
	assert.Equal(t, code, de.Code)
}

// =============================================================================
// Budget lifecycle
// =============================================================================

func TestCreateBudget(t *testing.T) {
	f := newFixture(t, "6")
	f.repo.On("Save", mock.Anything, mock.AnythingOfType("*budget.Budget")).Return(nil)

	b, err := f.svc.CreateBudget(context.Background(), CreateBudgetInput{
		ClinicID:  uuid.New(),
		PatientID: uuid.New(),
		Date:      fixedNow,
		Items: []budget.LineItemInput{
			{Target: "11", Treatments: []string{"Restauração"}, Values: map[string]int64{"Restauração": 25000}},
			{Target: "21", Treatments: []string{"Coroa"}, Values: map[string]int64{"Coroa": 120000}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(145000), b.Value)
	assert.Equal(t, budget.BudgetStatusPending, b.Status)
	assert.Equal(t, []string{budget.EventTypeBudgetCreated}, f.events.types())
	assert.Empty(t, b.GetDomainEvents())
	f.repo.AssertExpectations(t)
}

func TestCreateBudget_InvalidInputNotSaved(t *testing.T) {
	f := newFixture(t, "6")

	_, err := f.svc.CreateBudget(context.Background(), CreateBudgetInput{ClinicID: uuid.New(), PatientID: uuid.New(), Date: fixedNow})
	assertCode(t, err, shared.CodeInvalidInput)
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestGetBudget_NotFound(t *testing.T) {
	f := newFixture(t, "6")
	id := uuid.New()
	f.repo.On("FindByID", mock.Anything, id).Return(nil, shared.NewDomainError(shared.CodeNotFound, "budget not found"))

	_, err := f.svc.GetBudget(context.Background(), id)
	assertCode(t, err, shared.CodeNotFound)
}

func TestApproveAndRevertItems(t *testing.T) {
	f := newFixture(t, "6")
	b := newBudget(t, fixedNow,
		itemSpec{treatment: "Restauração", value: 20000, location: "0"},
		itemSpec{treatment: "Limpeza", value: 10000, location: "0"},
	)
	f.repo.On("FindByID", mock.Anything, b.ID).Return(b, nil)
	f.repo.On("SaveWithLock", mock.Anything, b).Return(nil)

	got, err := f.svc.ApproveItems(context.Background(), ItemsInput{BudgetID: b.ID, ItemIndices: []int{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, budget.BudgetStatusApproved, got.Status)

	got, err = f.svc.RevertItems(context.Background(), ItemsInput{BudgetID: b.ID, ItemIndices: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, budget.BudgetStatusPending, got.Status)
	assert.Equal(t, budget.ItemStatusApproved, got.Items[0].Status)

	assert.Equal(t, []string{budget.EventTypeBudgetItemsApproved, budget.EventTypeBudgetItemsReverted}, f.events.types())
	assert.Empty(t, f.ledger.rows, "toggling never writes the ledger")
}

func TestApproveItems_NoChangeSkipsSave(t *testing.T) {
	f := newFixture(t, "6")
	b := approvedBudget(t, fixedNow, itemSpec{treatment: "Limpeza", value: 10000, location: "0"})
	f.repo.On("FindByID", mock.Anything, b.ID).Return(b, nil)

	_, err := f.svc.ApproveItems(context.Background(), ItemsInput{BudgetID: b.ID, ItemIndices: []int{0}})
	require.NoError(t, err)
	f.repo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
}

func TestApproveItems_InvalidIndex(t *testing.T) {
	f := newFixture(t, "6")
	b := newBudget(t, fixedNow, itemSpec{treatment: "Limpeza", value: 10000, location: "0"})
	f.repo.On("FindByID", mock.Anything, b.ID).Return(b, nil)

	_, err := f.svc.ApproveItems(context.Background(), ItemsInput{BudgetID: b.ID, ItemIndices: []int{0, 3}})
	assertCode(t, err, shared.CodeNotFound)
	assert.Equal(t, budget.ItemStatusPending, b.Items[0].Status, "no item changes when any index is invalid")
}

func TestRevertItems_PaidIsTerminal(t *testing.T) {
	f := newFixture(t, "6")
	b := approvedBudget(t, fixedNow, itemSpec{treatment: "Limpeza", value: 10000, location: "0"})
	require.NoError(t, b.MarkItemPaid(0, budget.PaymentRecord{RequestID: uuid.New(), Method: payment.MethodCash}))
	f.repo.On("FindByID", mock.Anything, b.ID).Return(b, nil)

	_, err := f.svc.RevertItems(context.Background(), ItemsInput{BudgetID: b.ID, ItemIndices: []int{0}})
	assertCode(t, err, shared.CodeInvalidTransition)
	assert.Equal(t, budget.ItemStatusPaid, b.Items[0].Status)
}

func TestApproveItems_RetriesOnConflict(t *testing.T) {
	f := newFixture(t, "6")
	b := newBudget(t, fixedNow,
		itemSpec{treatment: "Limpeza", value: 10000, location: "0"},
		itemSpec{treatment: "Restauração", value: 20000, location: "0"},
	)
	fresh := cloneBudget(b)
	_, err := fresh.ApproveItems([]int{1}) // concurrent writer
	require.NoError(t, err)
	fresh.PullDomainEvents()
	fresh.Version = b.Version + 1

	f.repo.On("FindByID", mock.Anything, b.ID).Return(b, nil).Once()
	f.repo.On("SaveWithLock", mock.Anything, b).Return(shared.ErrConcurrencyConflict).Once()
	f.repo.On("FindByID", mock.Anything, b.ID).Return(fresh, nil).Once()
	f.repo.On("SaveWithLock", mock.Anything, fresh).Return(nil).Once()

	got, err := f.svc.ApproveItems(context.Background(), ItemsInput{BudgetID: b.ID, ItemIndices: []int{0}})
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	assert.Equal(t, budget.BudgetStatusApproved, got.Status, "both the concurrent and the retried change survive")
	f.repo.AssertExpectations(t)
}

func TestApproveItems_ConflictRetriesExhausted(t *testing.T) {
	f := newFixture(t, "6")
	b := newBudget(t, fixedNow, itemSpec{treatment: "Limpeza", value: 10000, location: "0"})
	f.repo.On("FindByID", mock.Anything, b.ID).Return(func(context.Context, uuid.UUID) *budget.Budget {
		return cloneBudget(b)
	}, nil)
	f.repo.On("SaveWithLock", mock.Anything, mock.Anything).Return(shared.ErrConcurrencyConflict)

	_, err := f.svc.ApproveItems(context.Background(), ItemsInput{BudgetID: b.ID, ItemIndices: []int{0}})
	assertCode(t, err, shared.CodeConcurrencyConflict)
	f.repo.AssertNumberOfCalls(t, "SaveWithLock", 3)
}

func TestListPatientBudgets(t *testing.T) {
	f := newFixture(t, "6")
	clinicID, patientID := uuid.New(), uuid.New()
	f.repo.On("FindByPatient", mock.Anything, clinicID, patientID).Return([]budget.Budget{{}, {}}, nil)

	list, err := f.svc.ListPatientBudgets(context.Background(), clinicID, patientID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
