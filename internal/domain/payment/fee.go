package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Sentinel brands used as wildcard rows when no brand-specific fee exists.
// Values are stored folded (see shared.FoldText).
var SentinelBrands = []string{"others", "outras bandeiras", "outros"}

// FeeConfig is a card-processing fee row keyed by (brand, payment type, installments)
type FeeConfig struct {
	Brand            string           `json:"brand"`
	PaymentType      PaymentType      `json:"payment_type"`
	Installments     int              `json:"installments"`
	Rate             decimal.Decimal  `json:"rate"`
	AnticipationRate *decimal.Decimal `json:"anticipation_rate,omitempty"`
}

// HasAnticipationRate returns true if the row carries a dedicated anticipation rate
func (c *FeeConfig) HasAnticipationRate() bool {
	return c != nil && c.AnticipationRate != nil
}

// IsSentinel returns true if the row is a wildcard fallback row
func (c *FeeConfig) IsSentinel() bool {
	return c != nil && IsSentinelBrand(c.Brand)
}

// IsSentinelBrand reports whether brand is one of the wildcard brand aliases
func IsSentinelBrand(brand string) bool {
	folded := NormalizeBrand(brand)
	for _, s := range SentinelBrands {
		if folded == s {
			return true
		}
	}
	return false
}

// NormalizeBrand folds a card brand so lookups are case and accent insensitive
func NormalizeBrand(brand string) string {
	return shared.FoldText(brand)
}

// FeeConfigProvider looks up a single fee row by its exact key.
// Brand is passed already normalized. Implementations return an error matching
// shared.ErrNotFound when no row exists.
type FeeConfigProvider interface {
	Lookup(ctx context.Context, brand string, paymentType PaymentType, installments int) (*FeeConfig, error)
}

// FeeResolver resolves the fee row for a card payment, falling back to the
// sentinel brand rows when the brand has no row of its own.
type FeeResolver struct {
	provider FeeConfigProvider
}

// NewFeeResolver creates a new FeeResolver
func NewFeeResolver(provider FeeConfigProvider) *FeeResolver {
	return &FeeResolver{provider: provider}
}

// Resolve returns the fee row for (brand, paymentType, installments).
// Debit always resolves with a single installment. When neither the brand nor any
// sentinel has a row, the error matches shared.ErrFeeNotConfigured; callers treat
// this as zero fee and surface it as "fees not configured".
func (r *FeeResolver) Resolve(ctx context.Context, brand string, paymentType PaymentType, installments int) (*FeeConfig, error) {
	if !paymentType.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("invalid payment type: %s", paymentType))
	}
	if installments < 1 || paymentType == PaymentTypeDebit {
		installments = 1
	}

	for _, candidate := range brandCandidates(brand) {
		cfg, err := r.provider.Lookup(ctx, candidate, paymentType, installments)
		if err == nil {
			return cfg, nil
		}
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		return nil, shared.WrapDomainError(shared.CodePersistenceFailure, "failed to load fee configuration", err)
	}

	return nil, shared.NewDomainError(shared.CodeFeeNotConfigured,
		fmt.Sprintf("no fee configured for brand %q, %s, %d installment(s)", brand, paymentType, installments))
}

func brandCandidates(brand string) []string {
	normalized := NormalizeBrand(brand)
	candidates := make([]string, 0, len(SentinelBrands)+1)
	if normalized != "" && !IsSentinelBrand(normalized) {
		candidates = append(candidates, normalized)
	}
	return append(candidates, SentinelBrands...)
}
