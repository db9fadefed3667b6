package payment

import (
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchItem is one line item taking part in a combined payment
type BatchItem struct {
	LineItemID   uuid.UUID
	GrossAmount  int64
	LocationRate decimal.Decimal
}

// ItemAllocation is the share of a combined payment that belongs to one line item
type ItemAllocation struct {
	LineItemID uuid.UUID          `json:"line_item_id"`
	Breakdown  FinancialBreakdown `json:"breakdown"`
}

// BatchAllocation is the result of splitting one payment across several line items.
// Aggregate amounts equal the sums over Items for every component.
type BatchAllocation struct {
	Aggregate FinancialBreakdown `json:"aggregate"`
	Items     []ItemAllocation   `json:"items"`
}

// BatchInput holds everything AllocateBatch needs
type BatchInput struct {
	Items      []BatchItem
	TaxRate    decimal.Decimal
	Method     PaymentMethod
	Fee        *FeeConfig
	Anticipate bool
}

// AllocateBatch computes one breakdown over the summed gross of all items, then
// distributes tax, card fee and anticipation to each item in proportion to its
// gross (largest remainder, so the shares sum exactly). Location is recomputed per
// item with the item's own rate on its post-fee base and net absorbs the rest.
func AllocateBatch(in BatchInput) (BatchAllocation, error) {
	if len(in.Items) == 0 {
		return BatchAllocation{}, shared.NewDomainError(shared.CodeInvalidInput, "batch must contain at least one item")
	}

	weights := make([]int64, len(in.Items))
	var total int64
	for i, item := range in.Items {
		if item.GrossAmount < 0 {
			return BatchAllocation{}, shared.NewDomainError(shared.CodeInvalidInput, "item gross amount cannot be negative")
		}
		if err := validateRate("location rate", item.LocationRate); err != nil {
			return BatchAllocation{}, err
		}
		weights[i] = item.GrossAmount
		total += item.GrossAmount
	}

	aggregate, err := CalculateBreakdown(BreakdownInput{
		GrossAmount:  total,
		TaxRate:      in.TaxRate,
		Method:       in.Method,
		Fee:          in.Fee,
		Anticipate:   in.Anticipate,
		LocationRate: decimal.Zero,
	})
	if err != nil {
		return BatchAllocation{}, err
	}

	taxes, err := valueobject.SplitProportional(aggregate.TaxAmount, weights)
	if err != nil {
		return BatchAllocation{}, shared.WrapDomainError(shared.CodeInvalidInput, "failed to allocate tax", err)
	}
	fees, err := valueobject.SplitProportional(aggregate.CardFeeAmount, weights)
	if err != nil {
		return BatchAllocation{}, shared.WrapDomainError(shared.CodeInvalidInput, "failed to allocate card fee", err)
	}
	anticipations, err := valueobject.SplitProportional(aggregate.AnticipationAmount, weights)
	if err != nil {
		return BatchAllocation{}, shared.WrapDomainError(shared.CodeInvalidInput, "failed to allocate anticipation", err)
	}

	result := BatchAllocation{Items: make([]ItemAllocation, len(in.Items))}
	aggregate.LocationAmount = 0
	aggregate.NetAmount = 0
	aggregate.LocationRate = uniformLocationRate(in.Items)

	for i, item := range in.Items {
		b := FinancialBreakdown{
			GrossAmount:        item.GrossAmount,
			TaxRate:            aggregate.TaxRate,
			TaxAmount:          taxes[i],
			CardFeeRate:        aggregate.CardFeeRate,
			CardFeeAmount:      fees[i],
			AnticipationRate:   aggregate.AnticipationRate,
			AnticipationAmount: anticipations[i],
			LocationRate:       item.LocationRate,
			IsAnticipated:      aggregate.IsAnticipated,
		}
		b.LocationAmount = valueobject.PercentOf(item.GrossAmount-b.CardFeeAmount, item.LocationRate)
		b.NetAmount = b.GrossAmount - b.TaxAmount - b.CardFeeAmount - b.LocationAmount

		aggregate.LocationAmount += b.LocationAmount
		aggregate.NetAmount += b.NetAmount
		result.Items[i] = ItemAllocation{LineItemID: item.LineItemID, Breakdown: b}
	}

	result.Aggregate = aggregate
	return result, nil
}

// uniformLocationRate returns the shared location rate of all items, or zero when they differ
func uniformLocationRate(items []BatchItem) decimal.Decimal {
	rate := items[0].LocationRate
	for _, item := range items[1:] {
		if !item.LocationRate.Equal(rate) {
			return decimal.Zero
		}
	}
	return rate
}
