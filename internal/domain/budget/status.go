package budget

// ItemStatus is the lifecycle state of a single line item
type ItemStatus string

const (
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusApproved ItemStatus = "approved"
	ItemStatusPaid     ItemStatus = "paid"
	ItemStatusRejected ItemStatus = "rejected"
)

// IsValid checks if the status is a valid ItemStatus
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusApproved, ItemStatusPaid, ItemStatusRejected:
		return true
	}
	return false
}

// String returns the string representation of ItemStatus
func (s ItemStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no transition leaves this status
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusPaid || s == ItemStatusRejected
}

// BudgetStatus is the aggregate status of a budget, derived from its items
type BudgetStatus string

const (
	BudgetStatusPending       BudgetStatus = "pending"
	BudgetStatusApproved      BudgetStatus = "approved"
	BudgetStatusPartiallyPaid BudgetStatus = "partially_paid"
	BudgetStatusPaid          BudgetStatus = "paid"
	BudgetStatusRejected      BudgetStatus = "rejected"
)

// IsValid checks if the status is a valid BudgetStatus
func (s BudgetStatus) IsValid() bool {
	switch s {
	case BudgetStatusPending, BudgetStatusApproved, BudgetStatusPartiallyPaid,
		BudgetStatusPaid, BudgetStatusRejected:
		return true
	}
	return false
}

// String returns the string representation of BudgetStatus
func (s BudgetStatus) String() string {
	return string(s)
}

// DeriveBudgetStatus computes the aggregate status from item statuses.
//
// Rejected items are ignored unless every item is rejected. Among the rest:
//   - no items at all: pending
//   - any item pending: pending
//   - every item paid: paid
//   - some items paid, the others approved: partially_paid
//   - every item approved: approved
func DeriveBudgetStatus(statuses []ItemStatus) BudgetStatus {
	if len(statuses) == 0 {
		return BudgetStatusPending
	}

	var pending, approved, paid int
	for _, s := range statuses {
		switch s {
		case ItemStatusPending:
			pending++
		case ItemStatusApproved:
			approved++
		case ItemStatusPaid:
			paid++
		}
	}
	active := pending + approved + paid

	switch {
	case active == 0:
		return BudgetStatusRejected
	case pending > 0:
		return BudgetStatusPending
	case paid == active:
		return BudgetStatusPaid
	case paid > 0:
		return BudgetStatusPartiallyPaid
	default:
		return BudgetStatusApproved
	}
}
