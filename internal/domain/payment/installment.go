package payment

import (
	"time"

	"github.com/clinic/backend/internal/domain/shared"
)

// Installment is one dated slice of a payment
type Installment struct {
	Number    int                `json:"number"` // 1-based
	Count     int                `json:"count"`
	DueDate   time.Time          `json:"due_date"`
	Breakdown FinancialBreakdown `json:"breakdown"`
}

// ScheduleInstallments expands a breakdown into n dated installments.
// An anticipated payment collapses to a single installment dated now; otherwise
// installment i (0-based) falls on budgetDate + i months, clamped to the last day
// of shorter months.
func ScheduleInstallments(b FinancialBreakdown, n int, budgetDate, now time.Time) ([]Installment, error) {
	if n < 1 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "installment count must be at least 1")
	}
	start := budgetDate
	if b.IsAnticipated {
		n = 1
		start = now
	}

	parts, err := b.Split(n)
	if err != nil {
		return nil, err
	}

	installments := make([]Installment, n)
	for i, part := range parts {
		installments[i] = Installment{
			Number:    i + 1,
			Count:     n,
			DueDate:   AddMonthsClamped(start, i),
			Breakdown: part,
		}
	}
	return installments, nil
}

// AddMonthsClamped adds months to t keeping the day of month, clamping to the
// last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	firstOfTarget := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := daysIn(firstOfTarget.Year(), firstOfTarget.Month(), t.Location())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
