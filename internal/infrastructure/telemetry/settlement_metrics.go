package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrMeterNil is returned when a metrics set is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// SettlementMetrics holds the counters recorded by the settlement service.
type SettlementMetrics struct {
	operations        *Counter
	operationDuration *Histogram
	itemsPaid         *Counter
	grossSettled      *Counter
	ledgerAppended    *Counter
	conflictRetries   *Counter
	feeNotConfigured  *Counter
	dispatchOutcomes  *Counter
}

// NewSettlementMetrics creates the settlement metric instruments on meter.
func NewSettlementMetrics(meter metric.Meter) (*SettlementMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   SettlementMetrics
		err error
	)
	if m.operations, err = NewCounter(meter, "settlement_operations_total", "Settlement use case invocations by outcome", "{operations}"); err != nil {
		return nil, err
	}
	if m.operationDuration, err = NewHistogram(meter, "settlement_operation_duration_seconds", "Settlement use case duration", "s", OperationDurationBuckets...); err != nil {
		return nil, err
	}
	if m.itemsPaid, err = NewCounter(meter, "settlement_items_paid_total", "Line items marked paid", "{items}"); err != nil {
		return nil, err
	}
	if m.grossSettled, err = NewCounter(meter, "settlement_gross_amount_total", "Gross amount settled in minor units", "{cents}"); err != nil {
		return nil, err
	}
	if m.ledgerAppended, err = NewCounter(meter, "settlement_ledger_transactions_total", "Ledger transactions appended", "{transactions}"); err != nil {
		return nil, err
	}
	if m.conflictRetries, err = NewCounter(meter, "settlement_conflict_retries_total", "Optimistic lock conflicts retried", "{retries}"); err != nil {
		return nil, err
	}
	if m.feeNotConfigured, err = NewCounter(meter, "settlement_fee_not_configured_total", "Card payments settled without a fee configuration", "{payments}"); err != nil {
		return nil, err
	}
	if m.dispatchOutcomes, err = NewCounter(meter, "settlement_dispatch_outcomes_total", "Order dispatch gate outcomes", "{outcomes}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewNoopSettlementMetrics returns metrics that record nothing.
func NewNoopSettlementMetrics() *SettlementMetrics {
	m, _ := NewSettlementMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

// RecordOperation records one use case invocation and its duration.
func (m *SettlementMetrics) RecordOperation(ctx context.Context, operation string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{AttrOperation.String(operation), AttrOutcome.String(outcome)}
	m.operations.Inc(ctx, attrs...)
	m.operationDuration.RecordDuration(ctx, time.Since(started), attrs...)
}

// RecordItemsPaid records paid items and their settled gross amount.
func (m *SettlementMetrics) RecordItemsPaid(ctx context.Context, method string, items int, gross int64) {
	attr := AttrPaymentMethod.String(method)
	m.itemsPaid.Add(ctx, int64(items), attr)
	m.grossSettled.Add(ctx, gross, attr)
}

// RecordLedgerAppended records appended ledger transactions.
func (m *SettlementMetrics) RecordLedgerAppended(ctx context.Context, count int) {
	m.ledgerAppended.Add(ctx, int64(count))
}

// RecordConflictRetry records one optimistic-lock retry.
func (m *SettlementMetrics) RecordConflictRetry(ctx context.Context, operation string) {
	m.conflictRetries.Inc(ctx, AttrOperation.String(operation))
}

// RecordFeeNotConfigured records a card payment settled without fee configuration.
func (m *SettlementMetrics) RecordFeeNotConfigured(ctx context.Context, method string) {
	m.feeNotConfigured.Inc(ctx, AttrPaymentMethod.String(method))
}

// RecordDispatchOutcome records one dispatch gate outcome.
func (m *SettlementMetrics) RecordDispatchOutcome(ctx context.Context, kind, outcome string) {
	m.dispatchOutcomes.Inc(ctx, AttrOrderKind.String(kind), AttrOutcome.String(outcome))
}
