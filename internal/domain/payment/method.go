package payment

// PaymentMethod is the instrument used to settle a line item
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodPix          PaymentMethod = "pix"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCredit       PaymentMethod = "credit"
	MethodDebit        PaymentMethod = "debit"
)

// IsValid checks if the method is a known PaymentMethod
func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodCash, MethodPix, MethodBankTransfer, MethodCredit, MethodDebit:
		return true
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// IsCard returns true for methods that go through a card processor and pay a fee
func (m PaymentMethod) IsCard() bool {
	return m == MethodCredit || m == MethodDebit
}

// AllowsInstallments returns true if the method can be split over several months
func (m PaymentMethod) AllowsInstallments() bool {
	return m == MethodCredit
}

// PaymentType returns the card payment type for card methods.
// The second return value is false for non-card methods.
func (m PaymentMethod) PaymentType() (PaymentType, bool) {
	switch m {
	case MethodCredit:
		return PaymentTypeCredit, true
	case MethodDebit:
		return PaymentTypeDebit, true
	}
	return "", false
}

// PaymentType is the card operation kind used to key fee configuration
type PaymentType string

const (
	PaymentTypeCredit PaymentType = "credit"
	PaymentTypeDebit  PaymentType = "debit"
)

// IsValid checks if the payment type is valid
func (t PaymentType) IsValid() bool {
	return t == PaymentTypeCredit || t == PaymentTypeDebit
}

// String returns the string representation of PaymentType
func (t PaymentType) String() string {
	return string(t)
}

// EffectiveInstallments clamps a requested installment count to what the method
// supports: at least 1, and exactly 1 for anything but credit or when anticipated.
func EffectiveInstallments(method PaymentMethod, requested int, anticipated bool) int {
	if requested < 1 || !method.AllowsInstallments() || anticipated {
		return 1
	}
	return requested
}
