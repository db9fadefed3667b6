package settlement

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
	"go.uber.org/zap"
)

func (f feeTable) Upsert(ctx context.Context, cfg *payment.FeeConfig) error {
	f[feeKey(cfg.Brand, cfg.PaymentType, cfg.Installments)] = cfg
	return nil
}

type taxRow struct {
	clinicID uuid.UUID
	name     string
	rate     decimal.Decimal
}

type memTaxes struct {
	rows []taxRow
}

func (m *memTaxes) Add(ctx context.Context, clinicID uuid.UUID, name string, rate decimal.Decimal, from time.Time, to *time.Time) error {
	m.rows = append(m.rows, taxRow{clinicID: clinicID, name: name, rate: rate})
	return nil
}

func (m *memTaxes) CurrentCombinedRate(ctx context.Context, clinicID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, r := range m.rows {
		if r.clinicID == clinicID {
			total = total.Add(r.rate)
		}
	}
	return total, nil
}

func TestUpsertFeeConfig(t *testing.T) {
	fees := feeTable{}
	svc := NewRatesService(fees, &memTaxes{}, zap.NewNop())
	ctx := context.Background()

	cfg, err := svc.UpsertFeeConfig(ctx, FeeConfigInput{
		Brand:        "  MasterCard ",
		PaymentType:  payment.PaymentTypeCredit,
		Installments: 6,
		Rate:         decimal.RequireFromString("4.2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "mastercard", cfg.Brand)

	got, err := svc.ResolveFee(ctx, "Mastercard", payment.PaymentTypeCredit, 6)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.2").Equal(got.Rate))

	_, err = svc.ResolveFee(ctx, "Elo", payment.PaymentTypeCredit, 6)
	assertCode(t, err, shared.CodeFeeNotConfigured)
}

func TestUpsertFeeConfig_Validation(t *testing.T) {
	svc := NewRatesService(feeTable{}, &memTaxes{}, zap.NewNop())
	over := decimal.NewFromInt(101)

	tests := []struct {
		name string
		in   FeeConfigInput
	}{
		{"missing brand", FeeConfigInput{PaymentType: payment.PaymentTypeCredit, Installments: 1}},
		{"bad type", FeeConfigInput{Brand: "visa", PaymentType: "boleto", Installments: 1}},
		{"too many installments", FeeConfigInput{Brand: "visa", PaymentType: payment.PaymentTypeCredit, Installments: 25}},
		{"debit in installments", FeeConfigInput{Brand: "visa", PaymentType: payment.PaymentTypeDebit, Installments: 2}},
		{"negative rate", FeeConfigInput{Brand: "visa", PaymentType: payment.PaymentTypeCredit, Installments: 1, Rate: decimal.NewFromInt(-1)}},
		{"anticipation over 100", FeeConfigInput{Brand: "visa", PaymentType: payment.PaymentTypeCredit, Installments: 1, AnticipationRate: &over}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpsertFeeConfig(context.Background(), tt.in)
			assertCode(t, err, shared.CodeInvalidInput)
		})
	}
}

func TestAddTaxRate(t *testing.T) {
	taxes := &memTaxes{}
	svc := NewRatesService(feeTable{}, taxes, zap.NewNop())
	ctx := context.Background()
	clinicID := uuid.New()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, svc.AddTaxRate(ctx, TaxRateInput{ClinicID: clinicID, Name: "ISS", Rate: decimal.RequireFromString("5"), EffectiveFrom: from}))
	require.NoError(t, svc.AddTaxRate(ctx, TaxRateInput{ClinicID: clinicID, Name: "PIS", Rate: decimal.RequireFromString("0.65"), EffectiveFrom: from}))

	rate, err := svc.CurrentTaxRate(ctx, clinicID)
	require.NoError(t, err)
	assert.Equal(t, "5.65", rate.String())

	before := from.AddDate(0, -1, 0)
	err = svc.AddTaxRate(ctx, TaxRateInput{ClinicID: clinicID, Name: "COFINS", Rate: decimal.NewFromInt(3), EffectiveFrom: from, EffectiveTo: &before})
	assertCode(t, err, shared.CodeInvalidInput)

	err = svc.AddTaxRate(ctx, TaxRateInput{ClinicID: clinicID, Name: " ", Rate: decimal.NewFromInt(3), EffectiveFrom: from})
	assertCode(t, err, shared.CodeInvalidInput)

	err = svc.AddTaxRate(ctx, TaxRateInput{Name: "ISS", Rate: decimal.NewFromInt(3), EffectiveFrom: from})
	assertCode(t, err, shared.CodeInvalidInput)
	assert.Len(t, taxes.rows, 2)
}
