package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewSettlementMetrics_NilMeter(t *testing.T) {
	m, err := telemetry.NewSettlementMetrics(nil)
	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
	assert.Nil(t, m)
}

func TestSettlementMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := telemetry.NewSettlementMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordOperation(ctx, "pay_item", time.Now(), nil)
	m.RecordOperation(ctx, "pay_item", time.Now(), errors.New("failed"))
	m.RecordItemsPaid(ctx, "credit", 2, 150000)
	m.RecordLedgerAppended(ctx, 6)
	m.RecordConflictRetry(ctx, "pay_item")
	m.RecordFeeNotConfigured(ctx, "debit")
	m.RecordDispatchOutcome(ctx, "lab_order", "created")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]int64{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				sums[metric.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), sums["settlement_operations_total"])
	assert.Equal(t, int64(2), sums["settlement_items_paid_total"])
	assert.Equal(t, int64(150000), sums["settlement_gross_amount_total"])
	assert.Equal(t, int64(6), sums["settlement_ledger_transactions_total"])
	assert.Equal(t, int64(1), sums["settlement_conflict_retries_total"])
	assert.Equal(t, int64(1), sums["settlement_fee_not_configured_total"])
	assert.Equal(t, int64(1), sums["settlement_dispatch_outcomes_total"])
}

func TestNewNoopSettlementMetrics(t *testing.T) {
	m := telemetry.NewNoopSettlementMetrics()
	require.NotNil(t, m)
	m.RecordOperation(context.Background(), "approve_items", time.Now(), nil)
}
