package valueobject

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Currency represents a currency code (ISO 4217)
type Currency string

const (
	BRL Currency = "BRL" // Brazilian Real (default)
	USD Currency = "USD" // US Dollar
	EUR Currency = "EUR" // Euro
)

// DefaultCurrency is the default currency for the system
const DefaultCurrency = BRL

var hundred = decimal.NewFromInt(100)

// Money is a value object holding an amount in integer minor units (cents).
// It is immutable - all operations return new Money instances.
type Money struct {
	minor    int64
	currency Currency
}

// NewMoney creates Money from minor units in the given currency
func NewMoney(minor int64, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, errors.New("currency cannot be empty")
	}
	return Money{minor: minor, currency: currency}, nil
}

// NewMoneyBRL creates Money in BRL from minor units
func NewMoneyBRL(minor int64) Money {
	return Money{minor: minor, currency: BRL}
}

// NewMoneyFromString parses a major-unit string such as "1000.00" into Money.
// Values with more than two decimal places are rounded half-up.
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount string: %w", err)
	}
	return NewMoney(d.Mul(hundred).Round(0).IntPart(), currency)
}

// Zero returns a zero-value Money in the specified currency
func Zero(currency Currency) Money {
	return Money{currency: currency}
}

// Minor returns the amount in minor units
func (m Money) Minor() int64 {
	return m.minor
}

// Currency returns the currency code
func (m Money) Currency() Currency {
	return m.currency
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.minor == 0
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.minor > 0
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.minor < 0
}

// Add returns a new Money with the sum of both amounts
// Returns error if currencies don't match
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{minor: m.minor + other.minor, currency: m.currency}, nil
}

// Subtract returns a new Money with the difference
// Returns error if currencies don't match
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot subtract money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{minor: m.minor - other.minor, currency: m.currency}, nil
}

// Percentage returns rate percent of the amount, rounded to a whole minor unit
func (m Money) Percentage(rate decimal.Decimal) Money {
	return Money{minor: PercentOf(m.minor, rate), currency: m.currency}
}

// Allocate divides money into n parts; any leftover goes to the first part
func (m Money) Allocate(parts int) ([]Money, error) {
	amounts, err := SplitEven(m.minor, parts)
	if err != nil {
		return nil, err
	}
	result := make([]Money, parts)
	for i, a := range amounts {
		result[i] = Money{minor: a, currency: m.currency}
	}
	return result, nil
}

// Equals returns true if both Money values are equal (same amount and currency)
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.minor == other.minor
}

// Decimal returns the amount in major units
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -2)
}

// String returns a string representation of the Money
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(2), m.currency)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64    `json:"amount"`
		Currency Currency `json:"currency"`
	}{
		Amount:   m.minor,
		Currency: m.currency,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
// A missing currency falls back to DefaultCurrency.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		Amount   int64    `json:"amount"`
		Currency Currency `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.minor = v.Amount
	m.currency = v.Currency
	if m.currency == "" {
		m.currency = DefaultCurrency
	}
	return nil
}

// Value implements driver.Valuer, storing minor units
func (m Money) Value() (driver.Value, error) {
	return m.minor, nil
}

// Scan implements sql.Scanner. Currency defaults to DefaultCurrency if not already set.
func (m *Money) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		m.minor = 0
	case int64:
		m.minor = v
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("invalid minor units value: %w", err)
		}
		m.minor = d.IntPart()
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid minor units value: %w", err)
		}
		m.minor = d.IntPart()
	default:
		return fmt.Errorf("cannot scan %T into Money", value)
	}
	if m.currency == "" {
		m.currency = DefaultCurrency
	}
	return nil
}

// PercentOf returns amount * rate / 100 rounded half-up to a whole minor unit.
// The multiplication is carried out in decimal, never in binary floating point.
func PercentOf(amount int64, rate decimal.Decimal) int64 {
	if amount == 0 || rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Div(hundred).Round(0).IntPart()
}

// SplitEven divides amount into n parts of amount/n; the leftover goes to the first part
// so the parts always sum to amount.
func SplitEven(amount int64, n int) ([]int64, error) {
	if n <= 0 {
		return nil, errors.New("parts must be positive")
	}
	base := amount / int64(n)
	leftover := amount - base*int64(n)

	parts := make([]int64, n)
	for i := range parts {
		parts[i] = base
	}
	parts[0] += leftover
	return parts, nil
}

// SplitProportional divides amount across weights using the largest-remainder method.
// Each share is floor(amount * w / sum(w)); the units left over go one each to the
// shares with the largest fractional remainder (ties to the lower index), so the
// result always sums to amount exactly. All weights must be non-negative and amount
// must be non-negative.
func SplitProportional(amount int64, weights []int64) ([]int64, error) {
	if len(weights) == 0 {
		return nil, errors.New("weights cannot be empty")
	}
	if amount < 0 {
		return nil, errors.New("amount cannot be negative")
	}
	var total int64
	for _, w := range weights {
		if w < 0 {
			return nil, errors.New("weights cannot be negative")
		}
		total += w
	}
	shares := make([]int64, len(weights))
	if total == 0 {
		if amount == 0 {
			return shares, nil
		}
		return nil, errors.New("weights sum to zero")
	}

	type remainder struct {
		index int
		value decimal.Decimal
	}
	amountDec := decimal.NewFromInt(amount)
	totalDec := decimal.NewFromInt(total)
	remainders := make([]remainder, len(weights))
	var allocated int64
	for i, w := range weights {
		exact := amountDec.Mul(decimal.NewFromInt(w)).Div(totalDec)
		floor := exact.Floor()
		shares[i] = floor.IntPart()
		allocated += shares[i]
		remainders[i] = remainder{index: i, value: exact.Sub(floor)}
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].value.GreaterThan(remainders[b].value)
	})
	for i := int64(0); i < amount-allocated; i++ {
		shares[remainders[i].index]++
	}
	return shares, nil
}

// FormatMinor renders minor units as a major-unit string with two decimals
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
