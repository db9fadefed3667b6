package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxConflictRetries is used when no retry budget is configured
const DefaultMaxConflictRetries = 3

const (
	opCreateBudget     = "create_budget"
	opGetBudget        = "get_budget"
	opListBudgets      = "list_budgets"
	opApproveItems     = "approve_items"
	opRevertItems      = "revert_items"
	opPreviewPayment   = "preview_payment"
	opPayItem          = "pay_item"
	opPaySelectedItems = "pay_selected_items"
	opRetryDispatch    = "retry_dispatch"
	opDispatchStatus   = "dispatch_status"
	opListTransactions = "list_transactions"
	opListOrders       = "list_orders"
)

// Ledger is the ledger as seen by the settlement service
type Ledger interface {
	payment.LedgerSink
	FindByBudget(ctx context.Context, budgetID uuid.UUID) ([]*payment.LedgerTransaction, error)
}

// SettlementService runs the budget approval and payment use cases.
//
// Every mutating use case reads the budget fresh, validates before writing and
// saves with an optimistic version check. On a version conflict the change is
// re-applied to a fresh copy, up to the retry budget.
type SettlementService struct {
	budgets    budget.BudgetRepository
	ledger     Ledger
	fees       *payment.FeeResolver
	taxes      payment.TaxRateProvider
	orders     fulfillment.OrderRegistry
	gate       *fulfillment.Gate
	events     shared.EventPublisher
	metrics    *telemetry.SettlementMetrics
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// Option configures a SettlementService
type Option func(*SettlementService)

func WithMaxConflictRetries(n int) Option {
	return func(s *SettlementService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithEventPublisher(p shared.EventPublisher) Option {
	return func(s *SettlementService) { s.events = p }
}

func WithMetrics(m *telemetry.SettlementMetrics) Option {
	return func(s *SettlementService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source used for payment dates
func WithClock(now func() time.Time) Option {
	return func(s *SettlementService) { s.now = now }
}

// NewSettlementService creates a new SettlementService
func NewSettlementService(
	budgets budget.BudgetRepository,
	ledger Ledger,
	fees payment.FeeConfigProvider,
	taxes payment.TaxRateProvider,
	orders fulfillment.OrderRegistry,
	gate *fulfillment.Gate,
	log *zap.Logger,
	opts ...Option,
) *SettlementService {
	s := &SettlementService{
		budgets:    budgets,
		ledger:     ledger,
		fees:       payment.NewFeeResolver(fees),
		taxes:      taxes,
		orders:     orders,
		gate:       gate,
		metrics:    telemetry.NewNoopSettlementMetrics(),
		logger:     log,
		maxRetries: DefaultMaxConflictRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBudget creates a budget with every item pending
func (s *SettlementService) CreateBudget(ctx context.Context, in CreateBudgetInput) (b *budget.Budget, err error) {
	ctx, span, done := s.begin(ctx, opCreateBudget)
	defer func() { done(err) }()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrClinicID, in.ClinicID.String(),
		telemetry.SpanAttrItemCount, len(in.Items),
	)

	b, err = budget.NewBudget(in.ClinicID, in.PatientID, in.Date, in.Items, in.Notes)
	if err != nil {
		return nil, err
	}
	if err = s.budgets.Save(ctx, b); err != nil {
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrBudgetID, b.ID.String())
	s.publish(ctx, b)

	logger.Enrich(ctx, s.logger).Info("Budget created",
		zap.String("budget_id", b.ID.String()),
		zap.Int("items", len(b.Items)),
		zap.Int64("value", b.Value),
	)
	return b, nil
}

// GetBudget returns a budget by id
func (s *SettlementService) GetBudget(ctx context.Context, id uuid.UUID) (b *budget.Budget, err error) {
	ctx, span, done := s.begin(ctx, opGetBudget)
	defer func() { done(err) }()
	telemetry.SetAttribute(span, telemetry.SpanAttrBudgetID, id.String())

	return s.budgets.FindByID(ctx, id)
}

// ListPatientBudgets returns a patient's budgets, newest first
func (s *SettlementService) ListPatientBudgets(ctx context.Context, clinicID, patientID uuid.UUID) (list []budget.Budget, err error) {
	ctx, _, done := s.begin(ctx, opListBudgets)
	defer func() { done(err) }()

	return s.budgets.FindByPatient(ctx, clinicID, patientID)
}

// ApproveItems moves the named pending items to approved. Already approved
// items are left alone; any other status fails the whole call.
func (s *SettlementService) ApproveItems(ctx context.Context, in ItemsInput) (*budget.Budget, error) {
	return s.toggleItems(ctx, opApproveItems, in, (*budget.Budget).ApproveItems)
}

// RevertItems moves the named approved items back to pending. Paid items
// cannot be reverted.
func (s *SettlementService) RevertItems(ctx context.Context, in ItemsInput) (*budget.Budget, error) {
	return s.toggleItems(ctx, opRevertItems, in, (*budget.Budget).RevertItems)
}

func (s *SettlementService) toggleItems(
	ctx context.Context,
	op string,
	in ItemsInput,
	apply func(*budget.Budget, []int) ([]uuid.UUID, error),
) (b *budget.Budget, err error) {
	ctx, span, done := s.begin(ctx, op)
	defer func() { done(err) }()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBudgetID, in.BudgetID.String(),
		telemetry.SpanAttrItemCount, len(in.ItemIndices),
	)

	b, err = s.budgets.FindByID(ctx, in.BudgetID)
	if err != nil {
		return nil, err
	}
	changed, err := apply(b, in.ItemIndices)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return b, nil
	}

	b, err = s.saveWithRetry(ctx, op, b, func(fresh *budget.Budget) (bool, error) {
		ids, err := apply(fresh, in.ItemIndices)
		return len(ids) > 0, err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, b)

	logger.Enrich(ctx, s.logger).Info("Budget items updated",
		zap.String("operation", op),
		zap.String("budget_id", b.ID.String()),
		zap.Ints("item_indices", in.ItemIndices),
		zap.String("status", b.Status.String()),
	)
	return b, nil
}

// ListTransactions returns the ledger transactions written for a budget
func (s *SettlementService) ListTransactions(ctx context.Context, budgetID uuid.UUID) (txs []*payment.LedgerTransaction, err error) {
	ctx, _, done := s.begin(ctx, opListTransactions)
	defer func() { done(err) }()

	if _, err = s.budgets.FindByID(ctx, budgetID); err != nil {
		return nil, err
	}
	return s.ledger.FindByBudget(ctx, budgetID)
}

// ListOrders returns the downstream orders created for a budget
func (s *SettlementService) ListOrders(ctx context.Context, budgetID uuid.UUID) (orders []fulfillment.OrderRecord, err error) {
	ctx, _, done := s.begin(ctx, opListOrders)
	defer func() { done(err) }()

	if _, err = s.budgets.FindByID(ctx, budgetID); err != nil {
		return nil, err
	}
	return s.orders.FindByBudget(ctx, budgetID)
}

// saveWithRetry saves b with a version check. On a conflict it loads a fresh
// copy and calls reapply on it; reapply reports false when the change is
// already present, in which case the fresh copy is returned unsaved.
func (s *SettlementService) saveWithRetry(
	ctx context.Context,
	op string,
	b *budget.Budget,
	reapply func(fresh *budget.Budget) (bool, error),
) (*budget.Budget, error) {
	for attempt := 0; ; attempt++ {
		err := s.budgets.SaveWithLock(ctx, b)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= s.maxRetries {
			return nil, err
		}

		s.metrics.RecordConflictRetry(ctx, op)
		logger.Enrich(ctx, s.logger).Warn("Budget changed concurrently, retrying",
			zap.String("operation", op),
			zap.String("budget_id", b.ID.String()),
			zap.Int("attempt", attempt+1),
		)

		fresh, err := s.budgets.FindByID(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		changed, err := reapply(fresh)
		if err != nil {
			return nil, err
		}
		if !changed {
			return fresh, nil
		}
		b = fresh
	}
}

func (s *SettlementService) publish(ctx context.Context, b *budget.Budget) {
	events := b.PullDomainEvents()
	if s.events == nil || len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		logger.Enrich(ctx, s.logger).Error("Failed to publish budget events",
			zap.String("budget_id", b.ID.String()),
			zap.Error(err),
		)
	}
}

// begin opens the span for a use case. The returned func ends it and records
// the outcome metric.
func (s *SettlementService) begin(ctx context.Context, op string) (context.Context, trace.Span, func(error)) {
	started := time.Now()
	ctx, span := telemetry.StartOperation(ctx, "settlement", op)
	return ctx, span, func(err error) {
		s.metrics.RecordOperation(ctx, op, started, err)
		telemetry.End(span, err)
	}
}
