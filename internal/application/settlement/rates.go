package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeConfigStore reads and writes card fee rows
type FeeConfigStore interface {
	payment.FeeConfigProvider
	Upsert(ctx context.Context, cfg *payment.FeeConfig) error
}

// TaxRateStore reads and writes clinic tax rates
type TaxRateStore interface {
	payment.TaxRateProvider
	Add(ctx context.Context, clinicID uuid.UUID, name string, rate decimal.Decimal, from time.Time, to *time.Time) error
}

// FeeConfigInput is one card fee row
type FeeConfigInput struct {
	Brand            string
	PaymentType      payment.PaymentType
	Installments     int
	Rate             decimal.Decimal
	AnticipationRate *decimal.Decimal
}

// TaxRateInput is one tax applicable to a clinic over a period
type TaxRateInput struct {
	ClinicID      uuid.UUID
	Name          string
	Rate          decimal.Decimal
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// RatesService maintains the fee and tax tables the settlement reads
type RatesService struct {
	fees     FeeConfigStore
	resolver *payment.FeeResolver
	taxes    TaxRateStore
	logger   *zap.Logger
}

func NewRatesService(fees FeeConfigStore, taxes TaxRateStore, log *zap.Logger) *RatesService {
	return &RatesService{
		fees:     fees,
		resolver: payment.NewFeeResolver(fees),
		taxes:    taxes,
		logger:   log,
	}
}

var hundred = decimal.NewFromInt(100)

func checkPercent(name string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(hundred) {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("%s must be between 0 and 100", name))
	}
	return nil
}

// UpsertFeeConfig creates or replaces the fee row for (brand, type, installments)
func (s *RatesService) UpsertFeeConfig(ctx context.Context, in FeeConfigInput) (*payment.FeeConfig, error) {
	brand := payment.NormalizeBrand(in.Brand)
	if brand == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "brand is required")
	}
	if !in.PaymentType.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("invalid payment type: %q", in.PaymentType))
	}
	if in.Installments < 1 || in.Installments > MaxInstallments {
		return nil, shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("installments must be between 1 and %d", MaxInstallments))
	}
	if in.PaymentType == payment.PaymentTypeDebit && in.Installments != 1 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "debit fees are configured for a single installment")
	}
	if err := checkPercent("rate", in.Rate); err != nil {
		return nil, err
	}
	if in.AnticipationRate != nil {
		if err := checkPercent("anticipation rate", *in.AnticipationRate); err != nil {
			return nil, err
		}
	}

	cfg := &payment.FeeConfig{
		Brand:            brand,
		PaymentType:      in.PaymentType,
		Installments:     in.Installments,
		Rate:             in.Rate,
		AnticipationRate: in.AnticipationRate,
	}
	if err := s.fees.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	logger.Enrich(ctx, s.logger).Info("Card fee configured",
		zap.String("brand", brand),
		zap.String("payment_type", in.PaymentType.String()),
		zap.Int("installments", in.Installments),
		zap.String("rate", in.Rate.String()),
	)
	return cfg, nil
}

// ResolveFee returns the fee row a payment would use, after sentinel fallback
func (s *RatesService) ResolveFee(ctx context.Context, brand string, paymentType payment.PaymentType, installments int) (*payment.FeeConfig, error) {
	return s.resolver.Resolve(ctx, brand, paymentType, installments)
}

// AddTaxRate records a tax that applies to the clinic from EffectiveFrom
func (s *RatesService) AddTaxRate(ctx context.Context, in TaxRateInput) error {
	if in.ClinicID == uuid.Nil {
		return shared.NewDomainError(shared.CodeInvalidInput, "clinic ID cannot be empty")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, "tax name is required")
	}
	if err := checkPercent("tax rate", in.Rate); err != nil {
		return err
	}
	if in.EffectiveFrom.IsZero() {
		return shared.NewDomainError(shared.CodeInvalidInput, "effective_from is required")
	}
	if in.EffectiveTo != nil && !in.EffectiveTo.After(in.EffectiveFrom) {
		return shared.NewDomainError(shared.CodeInvalidInput, "effective_to must be after effective_from")
	}
	return s.taxes.Add(ctx, in.ClinicID, name, in.Rate, in.EffectiveFrom, in.EffectiveTo)
}

// CurrentTaxRate returns the combined tax rate in force for the clinic
func (s *RatesService) CurrentTaxRate(ctx context.Context, clinicID uuid.UUID) (decimal.Decimal, error) {
	return s.taxes.CurrentCombinedRate(ctx, clinicID)
}
