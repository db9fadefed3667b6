package payment

import (
	"fmt"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

var maxRate = decimal.NewFromInt(100)

// FinancialBreakdown decomposes a gross payment into its components.
// All amounts are integer minor units; rates are percentages.
// TaxAmount + CardFeeAmount + LocationAmount + NetAmount always equals GrossAmount.
// AnticipationAmount is the share of CardFeeAmount caused by electing anticipation
// and is never subtracted on its own.
type FinancialBreakdown struct {
	GrossAmount        int64           `json:"gross_amount"`
	TaxRate            decimal.Decimal `json:"tax_rate"`
	TaxAmount          int64           `json:"tax_amount"`
	CardFeeRate        decimal.Decimal `json:"card_fee_rate"`
	CardFeeAmount      int64           `json:"card_fee_amount"`
	AnticipationRate   decimal.Decimal `json:"anticipation_rate"`
	AnticipationAmount int64           `json:"anticipation_amount"`
	LocationRate       decimal.Decimal `json:"location_rate"`
	LocationAmount     int64           `json:"location_amount"`
	NetAmount          int64           `json:"net_amount"`
	IsAnticipated      bool            `json:"is_anticipated"`
}

// IsBalanced returns true if the deductions and net add back up to gross
func (b FinancialBreakdown) IsBalanced() bool {
	return b.TaxAmount+b.CardFeeAmount+b.LocationAmount+b.NetAmount == b.GrossAmount
}

// BreakdownInput holds everything CalculateBreakdown needs for one amount
type BreakdownInput struct {
	GrossAmount  int64
	TaxRate      decimal.Decimal
	Method       PaymentMethod
	Fee          *FeeConfig // nil when the method is not a card or no fee is configured
	Anticipate   bool
	LocationRate decimal.Decimal
}

// Validate checks the input for out-of-range values
func (in BreakdownInput) Validate() error {
	if in.GrossAmount < 0 {
		return shared.NewDomainError(shared.CodeInvalidInput, "gross amount cannot be negative")
	}
	if !in.Method.IsValid() {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("invalid payment method: %s", in.Method))
	}
	if err := validateRate("tax rate", in.TaxRate); err != nil {
		return err
	}
	return validateRate("location rate", in.LocationRate)
}

func validateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("%s must be between 0 and 100", name))
	}
	return nil
}

// CalculateBreakdown computes the breakdown of a single gross amount.
//
// Order of computation:
//  1. tax = gross * taxRate / 100
//  2. card fee (credit/debit only) at the anticipation rate when anticipated and
//     the fee row has one, otherwise at the base rate; debit counts as anticipated
//  3. location = (gross - card fee) * locationRate / 100
//  4. net = gross - tax - card fee - location
//
// Every derived amount is rounded half-up to a whole minor unit and net absorbs
// the rounding, so the components always sum back to gross.
func CalculateBreakdown(in BreakdownInput) (FinancialBreakdown, error) {
	if err := in.Validate(); err != nil {
		return FinancialBreakdown{}, err
	}

	anticipated := in.Method == MethodDebit || in.Anticipate
	b := FinancialBreakdown{
		GrossAmount:      in.GrossAmount,
		TaxRate:          in.TaxRate,
		CardFeeRate:      decimal.Zero,
		AnticipationRate: decimal.Zero,
		LocationRate:     in.LocationRate,
		IsAnticipated:    anticipated,
	}

	b.TaxAmount = valueobject.PercentOf(in.GrossAmount, in.TaxRate)

	if in.Method.IsCard() && in.Fee != nil {
		b.CardFeeRate = in.Fee.Rate
		if anticipated && in.Fee.HasAnticipationRate() {
			b.CardFeeRate = *in.Fee.AnticipationRate
			b.AnticipationRate = *in.Fee.AnticipationRate
		}
		b.CardFeeAmount = valueobject.PercentOf(in.GrossAmount, b.CardFeeRate)
		if b.AnticipationRate.IsPositive() {
			// the part of the fee attributable to anticipation over the base rate
			extra := b.CardFeeAmount - valueobject.PercentOf(in.GrossAmount, in.Fee.Rate)
			if extra > 0 {
				b.AnticipationAmount = extra
			}
		}
	}

	b.LocationAmount = valueobject.PercentOf(in.GrossAmount-b.CardFeeAmount, in.LocationRate)
	b.NetAmount = in.GrossAmount - b.TaxAmount - b.CardFeeAmount - b.LocationAmount
	return b, nil
}

// Split divides the breakdown into n parts, one per installment.
// Each amount component is split with the leftover on the first part and the
// net of each part is recomputed from its own components, so every component
// (net included) sums back to the original across parts.
func (b FinancialBreakdown) Split(n int) ([]FinancialBreakdown, error) {
	if n < 1 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "installment count must be at least 1")
	}
	gross, err := valueobject.SplitEven(b.GrossAmount, n)
	if err != nil {
		return nil, err
	}
	tax, _ := valueobject.SplitEven(b.TaxAmount, n)
	fee, _ := valueobject.SplitEven(b.CardFeeAmount, n)
	anticipation, _ := valueobject.SplitEven(b.AnticipationAmount, n)
	location, _ := valueobject.SplitEven(b.LocationAmount, n)

	parts := make([]FinancialBreakdown, n)
	for i := range parts {
		part := b
		part.GrossAmount = gross[i]
		part.TaxAmount = tax[i]
		part.CardFeeAmount = fee[i]
		part.AnticipationAmount = anticipation[i]
		part.LocationAmount = location[i]
		part.NetAmount = gross[i] - tax[i] - fee[i] - location[i]
		parts[i] = part
	}
	return parts, nil
}
