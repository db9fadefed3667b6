package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type plannedItem struct {
	index          int
	lineItemID     uuid.UUID
	breakdown      payment.FinancialBreakdown
	installments   []payment.Installment
	transactionIDs []uuid.UUID
}

type paymentPlan struct {
	taxRate        decimal.Decimal
	feesConfigured bool
	installments   int // count actually scheduled, after anticipation and method rules
	aggregate      payment.FinancialBreakdown
	items          []plannedItem
}

// PreviewPayment computes the breakdown and installment schedule of a payment
// over the given items without writing anything
func (s *SettlementService) PreviewPayment(ctx context.Context, in PreviewInput) (preview *PaymentPreview, err error) {
	ctx, span, done := s.begin(ctx, opPreviewPayment)
	defer func() { done(err) }()

	terms, indices, err := normalize(in.PaymentTerms, in.ItemIndices)
	if err != nil {
		return nil, err
	}
	setPaymentAttributes(span, in.BudgetID, indices, terms)

	b, err := s.budgets.FindByID(ctx, in.BudgetID)
	if err != nil {
		return nil, err
	}
	for _, idx := range indices {
		li, err := b.Item(idx)
		if err != nil {
			return nil, err
		}
		if li.Status != budget.ItemStatusPending && li.Status != budget.ItemStatusApproved {
			return nil, shared.NewDomainError(shared.CodeInvalidTransition,
				fmt.Sprintf("line item %s is %s and cannot be paid", li.ID, li.Status))
		}
	}

	plan, err := s.plan(ctx, b, indices, terms, false)
	if err != nil {
		return nil, err
	}
	return &PaymentPreview{
		BudgetID:       b.ID,
		TaxRate:        plan.taxRate.String(),
		FeesConfigured: plan.feesConfigured,
		Aggregate:      plan.aggregate,
		Items:          plan.settlements(),
	}, nil
}

// PayItem pays one approved item. See PaySelectedItems.
func (s *SettlementService) PayItem(ctx context.Context, in PayItemInput) (res *PaymentResult, err error) {
	ctx, span, done := s.begin(ctx, opPayItem)
	defer func() { done(err) }()
	telemetry.SetAttribute(span, telemetry.SpanAttrItemIndex, in.ItemIndex)

	return s.pay(ctx, span, opPayItem, in.BudgetID, []int{in.ItemIndex}, false, in.PaymentTerms)
}

// PaySelectedItems pays several items with one payment action. The breakdown
// is computed once over the summed gross and allocated to each item.
//
// Writes happen in this order: one ledger transaction per item installment,
// then the budget with every item paid, then the downstream order gate per
// item. Nothing is written when validation fails. A failure after the first
// ledger transaction is reported as PARTIAL_BATCH_FAILURE; repeating the call
// with the same RequestID completes it without duplicating ledger rows.
func (s *SettlementService) PaySelectedItems(ctx context.Context, in PaySelectedItemsInput) (res *PaymentResult, err error) {
	ctx, span, done := s.begin(ctx, opPaySelectedItems)
	defer func() { done(err) }()

	return s.pay(ctx, span, opPaySelectedItems, in.BudgetID, in.ItemIndices, in.ApproveFirst, in.PaymentTerms)
}

func (s *SettlementService) pay(
	ctx context.Context,
	span trace.Span,
	op string,
	budgetID uuid.UUID,
	itemIndices []int,
	approveFirst bool,
	terms PaymentTerms,
) (*PaymentResult, error) {
	terms, indices, err := normalize(terms, itemIndices)
	if err != nil {
		return nil, err
	}
	setPaymentAttributes(span, budgetID, indices, terms)
	log := logger.Enrich(ctx, s.logger).With(
		zap.String("budget_id", budgetID.String()),
		zap.String("payment_request_id", terms.RequestID.String()),
	)

	b, err := s.budgets.FindByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	// items already paid by this same request are a replay and are not paid again
	var toPay, replayed []int
	for _, idx := range indices {
		li, err := b.Item(idx)
		if err != nil {
			return nil, err
		}
		if paidBy(li, terms.RequestID) {
			replayed = append(replayed, idx)
			continue
		}
		toPay = append(toPay, idx)
	}

	if len(toPay) == 0 {
		log.Info("Payment request already applied", zap.Ints("item_indices", indices))
		res := replayResult(b, indices, terms.RequestID)
		res.Dispatches, res.DispatchFailures = s.dispatch(ctx, log, b, indices)
		return res, nil
	}

	if approveFirst {
		if _, err := b.ApproveItems(toPay); err != nil {
			return nil, err
		}
	}
	for _, idx := range toPay {
		li, _ := b.Item(idx)
		if err := li.CanPay(); err != nil {
			return nil, err
		}
	}

	plan, err := s.plan(ctx, b, toPay, terms, true)
	if err != nil {
		return nil, err
	}

	expected := 0
	for _, item := range plan.items {
		expected += len(item.installments)
	}
	written := 0
	for i := range plan.items {
		item := &plan.items[i]
		txs := payment.NewLedgerTransactions(payment.LedgerContext{
			RequestID:   terms.RequestID,
			ClinicID:    b.ClinicID,
			BudgetID:    b.ID,
			LineItemID:  item.lineItemID,
			PatientID:   b.PatientID,
			Method:      terms.Method,
			Brand:       terms.Brand,
			Payer:       terms.Payer,
			Description: terms.Description,
		}, item.installments)
		for _, tx := range txs {
			id, err := s.ledger.AppendTransaction(ctx, tx)
			if err != nil {
				if written == 0 {
					return nil, asPersistence(err, "failed to write ledger transaction")
				}
				log.Error("Payment partially registered, reconciliation required",
					zap.Int("transactions_written", written),
					zap.Int("transactions_expected", expected),
					zap.String("failed_line_item_id", item.lineItemID.String()),
					zap.Int("failed_installment", tx.InstallmentNumber),
					zap.Error(err),
				)
				return nil, shared.WrapDomainError(shared.CodePartialBatchFailure,
					fmt.Sprintf("%d of %d ledger transactions written; retry with the same request id", written, expected), err)
			}
			item.transactionIDs = append(item.transactionIDs, id)
			written++
		}
	}
	s.metrics.RecordLedgerAppended(ctx, written)

	paidAt := s.now()
	apply := func(target *budget.Budget) (bool, error) {
		changed := false
		if approveFirst {
			var pending []int
			for _, item := range plan.items {
				if li, err := target.Item(item.index); err == nil && li.Status == budget.ItemStatusPending {
					pending = append(pending, item.index)
				}
			}
			if len(pending) > 0 {
				if _, err := target.ApproveItems(pending); err != nil {
					return false, err
				}
				changed = true
			}
		}
		for _, item := range plan.items {
			li, err := target.Item(item.index)
			if err != nil {
				return false, err
			}
			if li.ID != item.lineItemID {
				return false, shared.NewDomainError(shared.CodeInvalidState,
					fmt.Sprintf("line item at index %d changed identity", item.index))
			}
			if paidBy(li, terms.RequestID) {
				continue
			}
			if li.IsPaid() {
				return false, shared.NewDomainError(shared.CodeInvalidTransition,
					fmt.Sprintf("line item %s was paid by request %s", li.ID, li.Payment.RequestID))
			}
			if err := target.MarkItemPaid(item.index, budget.PaymentRecord{
				RequestID:      terms.RequestID,
				Method:         terms.Method,
				Brand:          terms.Brand,
				Installments:   plan.installments,
				PaidAt:         paidAt,
				Breakdown:      item.breakdown,
				Payer:          terms.Payer,
				BatchSize:      len(plan.items),
				FeesConfigured: plan.feesConfigured,
			}); err != nil {
				return false, err
			}
			changed = true
		}
		return changed, nil
	}

	if _, err := apply(b); err != nil {
		return nil, err
	}
	saved, err := s.saveWithRetry(ctx, op, b, apply)
	if err != nil {
		log.Error("Ledger written but budget not updated, reconciliation required",
			zap.Int("transactions_written", written),
			zap.Ints("item_indices", toPay),
			zap.Error(err),
		)
		return nil, shared.WrapDomainError(shared.CodePartialBatchFailure,
			"payment registered in the ledger but items could not be marked paid", err)
	}
	s.publish(ctx, saved)
	s.metrics.RecordItemsPaid(ctx, terms.Method.String(), len(plan.items), plan.aggregate.GrossAmount)

	log.Info("Payment registered",
		zap.String("method", terms.Method.String()),
		zap.Int("items", len(plan.items)),
		zap.Int("transactions", written),
		zap.Int64("gross", plan.aggregate.GrossAmount),
		zap.Int64("net", plan.aggregate.NetAmount),
		zap.Bool("fees_configured", plan.feesConfigured),
	)

	res := &PaymentResult{
		RequestID:      terms.RequestID,
		BudgetID:       saved.ID,
		BudgetStatus:   saved.Status,
		FeesConfigured: plan.feesConfigured,
		Aggregate:      plan.aggregate,
		Items:          plan.settlements(),
	}
	for _, idx := range replayed {
		li, _ := saved.Item(idx)
		res.Items = append(res.Items, ItemSettlement{ItemIndex: idx, LineItemID: li.ID, Breakdown: li.Payment.Breakdown})
	}
	res.Dispatches, res.DispatchFailures = s.dispatch(ctx, log, saved, indices)
	return res, nil
}

// RetryDispatch runs the order gate again for an already paid item. Orders that
// exist are not created twice. Nothing is written to the ledger.
func (s *SettlementService) RetryDispatch(ctx context.Context, budgetID uuid.UUID, index int) (res *fulfillment.DispatchResult, err error) {
	ctx, span, done := s.begin(ctx, opRetryDispatch)
	defer func() { done(err) }()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBudgetID, budgetID.String(),
		telemetry.SpanAttrItemIndex, index,
	)

	b, err := s.budgets.FindByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	result, err := s.gate.Dispatch(ctx, b, index)
	s.recordOutcomes(ctx, result)
	if err != nil {
		var de *shared.DomainError
		if !errors.As(err, &de) {
			err = shared.WrapDomainError(shared.CodeDispatchFailure, err.Error(), err)
		}
		return &result, err
	}
	return &result, nil
}

// DispatchStatus reports the downstream orders of a paid item without creating any
func (s *SettlementService) DispatchStatus(ctx context.Context, budgetID uuid.UUID, index int) (res *fulfillment.DispatchResult, err error) {
	ctx, span, done := s.begin(ctx, opDispatchStatus)
	defer func() { done(err) }()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBudgetID, budgetID.String(),
		telemetry.SpanAttrItemIndex, index,
	)

	b, err := s.budgets.FindByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	result, err := s.gate.Status(ctx, b, index)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// dispatch runs the gate once per paid item. Failures are collected, not returned.
func (s *SettlementService) dispatch(ctx context.Context, log *zap.Logger, b *budget.Budget, indices []int) ([]fulfillment.DispatchResult, []DispatchFailure) {
	var (
		results  []fulfillment.DispatchResult
		failures []DispatchFailure
	)
	for _, idx := range indices {
		result, err := s.gate.Dispatch(ctx, b, idx)
		s.recordOutcomes(ctx, result)
		if len(result.Outcomes) > 0 {
			results = append(results, result)
		}
		if err != nil {
			failures = append(failures, DispatchFailure{ItemIndex: idx, LineItemID: result.LineItemID, Error: err.Error()})
			log.Warn("Order dispatch failed for paid item",
				zap.Int("item_index", idx),
				zap.String("line_item_id", result.LineItemID.String()),
				zap.Error(err),
			)
		}
	}
	return results, failures
}

func (s *SettlementService) recordOutcomes(ctx context.Context, result fulfillment.DispatchResult) {
	for _, o := range result.Outcomes {
		s.metrics.RecordDispatchOutcome(ctx, o.Kind.String(), string(o.Status))
	}
}

// plan computes the breakdown and installments for the items at indices.
// A single item uses its own breakdown; several are allocated from one
// aggregate breakdown.
func (s *SettlementService) plan(ctx context.Context, b *budget.Budget, indices []int, terms PaymentTerms, record bool) (*paymentPlan, error) {
	taxRate, err := s.taxes.CurrentCombinedRate(ctx, b.ClinicID)
	if err != nil {
		return nil, asPersistence(err, "failed to load tax rate")
	}
	fee, configured, err := s.resolveFee(ctx, terms, record)
	if err != nil {
		return nil, err
	}

	p := &paymentPlan{taxRate: taxRate, feesConfigured: configured}
	breakdowns := make([]payment.FinancialBreakdown, len(indices))
	if len(indices) == 1 {
		li, _ := b.Item(indices[0])
		bd, err := payment.CalculateBreakdown(payment.BreakdownInput{
			GrossAmount:  li.GrossAmount(),
			TaxRate:      taxRate,
			Method:       terms.Method,
			Fee:          fee,
			Anticipate:   terms.Anticipate,
			LocationRate: li.LocationRate,
		})
		if err != nil {
			return nil, err
		}
		p.aggregate = bd
		breakdowns[0] = bd
	} else {
		items := make([]payment.BatchItem, len(indices))
		for i, idx := range indices {
			li, _ := b.Item(idx)
			items[i] = payment.BatchItem{LineItemID: li.ID, GrossAmount: li.GrossAmount(), LocationRate: li.LocationRate}
		}
		alloc, err := payment.AllocateBatch(payment.BatchInput{
			Items:      items,
			TaxRate:    taxRate,
			Method:     terms.Method,
			Fee:        fee,
			Anticipate: terms.Anticipate,
		})
		if err != nil {
			return nil, err
		}
		p.aggregate = alloc.Aggregate
		for i := range alloc.Items {
			breakdowns[i] = alloc.Items[i].Breakdown
		}
	}

	n := payment.EffectiveInstallments(terms.Method, terms.Installments, p.aggregate.IsAnticipated)
	p.installments = n
	now := s.now()
	for i, idx := range indices {
		li, _ := b.Item(idx)
		schedule, err := payment.ScheduleInstallments(breakdowns[i], n, b.Date, now)
		if err != nil {
			return nil, err
		}
		p.items = append(p.items, plannedItem{
			index:        idx,
			lineItemID:   li.ID,
			breakdown:    breakdowns[i],
			installments: schedule,
		})
	}
	return p, nil
}

// resolveFee returns the fee row for a card payment. A missing row is settled
// at zero fee and reported as not configured.
func (s *SettlementService) resolveFee(ctx context.Context, terms PaymentTerms, record bool) (*payment.FeeConfig, bool, error) {
	paymentType, ok := terms.Method.PaymentType()
	if !ok {
		return nil, true, nil
	}
	fee, err := s.fees.Resolve(ctx, terms.Brand, paymentType, terms.Installments)
	if errors.Is(err, shared.ErrFeeNotConfigured) {
		if record {
			s.metrics.RecordFeeNotConfigured(ctx, terms.Method.String())
			logger.Enrich(ctx, s.logger).Warn("Card fees not configured, settling with zero fee",
				zap.String("brand", terms.Brand),
				zap.String("payment_type", paymentType.String()),
				zap.Int("installments", terms.Installments),
			)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return fee, true, nil
}

func (p *paymentPlan) settlements() []ItemSettlement {
	out := make([]ItemSettlement, len(p.items))
	for i, item := range p.items {
		out[i] = ItemSettlement{
			ItemIndex:      item.index,
			LineItemID:     item.lineItemID,
			Breakdown:      item.breakdown,
			Installments:   item.installments,
			TransactionIDs: item.transactionIDs,
		}
	}
	return out
}

func replayResult(b *budget.Budget, indices []int, requestID uuid.UUID) *PaymentResult {
	res := &PaymentResult{
		RequestID:      requestID,
		BudgetID:       b.ID,
		BudgetStatus:   b.Status,
		Replayed:       true,
		FeesConfigured: true,
	}
	for i, idx := range indices {
		li, _ := b.Item(idx)
		bd := li.Payment.Breakdown
		res.Items = append(res.Items, ItemSettlement{ItemIndex: idx, LineItemID: li.ID, Breakdown: bd})
		res.FeesConfigured = res.FeesConfigured && li.Payment.FeesConfigured
		if i == 0 {
			res.Aggregate = bd
			continue
		}
		res.Aggregate.GrossAmount += bd.GrossAmount
		res.Aggregate.TaxAmount += bd.TaxAmount
		res.Aggregate.CardFeeAmount += bd.CardFeeAmount
		res.Aggregate.AnticipationAmount += bd.AnticipationAmount
		res.Aggregate.LocationAmount += bd.LocationAmount
		res.Aggregate.NetAmount += bd.NetAmount
		if !res.Aggregate.LocationRate.Equal(bd.LocationRate) {
			res.Aggregate.LocationRate = decimal.Zero
		}
	}
	return res
}

func paidBy(li *budget.LineItem, requestID uuid.UUID) bool {
	return li.IsPaid() && li.Payment != nil && li.Payment.RequestID == requestID
}

// normalize validates the terms, assigns a request id when missing and
// removes duplicate indices
func normalize(terms PaymentTerms, indices []int) (PaymentTerms, []int, error) {
	if !terms.Method.IsValid() {
		return terms, nil, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("invalid payment method: %q", terms.Method))
	}
	if terms.Installments < 0 || terms.Installments > MaxInstallments {
		return terms, nil, shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("installments must be between 1 and %d", MaxInstallments))
	}
	if terms.Installments == 0 {
		terms.Installments = 1
	}
	if !terms.Method.AllowsInstallments() {
		terms.Installments = 1
	}
	if terms.RequestID == uuid.Nil {
		terms.RequestID = uuid.New()
	}
	if len(indices) == 0 {
		return terms, nil, shared.NewDomainError(shared.CodeInvalidInput, "at least one item index is required")
	}

	seen := make(map[int]bool, len(indices))
	unique := make([]int, 0, len(indices))
	for _, idx := range indices {
		if !seen[idx] {
			seen[idx] = true
			unique = append(unique, idx)
		}
	}
	return terms, unique, nil
}

func asPersistence(err error, msg string) error {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	return shared.WrapDomainError(shared.CodePersistenceFailure, msg, err)
}

func setPaymentAttributes(span trace.Span, budgetID uuid.UUID, indices []int, terms PaymentTerms) {
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBudgetID, budgetID.String(),
		telemetry.SpanAttrItemCount, len(indices),
		telemetry.SpanAttrRequestID, terms.RequestID.String(),
		telemetry.SpanAttrMethod, terms.Method.String(),
		telemetry.SpanAttrBrand, terms.Brand,
		telemetry.SpanAttrInstallments, terms.Installments,
		telemetry.SpanAttrAnticipate, terms.Anticipate,
	)
}
