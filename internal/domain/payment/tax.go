package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaxRateProvider returns the combined tax rate (sum of all applicable rates, in percent)
// currently in force for a clinic
type TaxRateProvider interface {
	CurrentCombinedRate(ctx context.Context, clinicID uuid.UUID) (decimal.Decimal, error)
}
