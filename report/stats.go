/*
Package report turns ledger data into summaries and exports.

CONTENTS:
  stats.go: balance statistics, with money figures from the lesson price
  ics.go:   lessons as an iCalendar feed
  xlsx.go:  students and balances as an Excel workbook

Nothing here mutates the ledger. Callers load students or lessons through
the engine and pass them in.
*/
package report

import (
	"github.com/shopspring/decimal"

	"github.com/warp/tutor-ledger/ledger"
)

// Pricing values lessons for money figures.
type Pricing struct {
	LessonPrice decimal.Decimal
	Currency    string

	// LowBalanceThreshold counts students whose balance is below it.
	LowBalanceThreshold int
}

// DefaultPricing has no price and the threshold of 3 lessons.
func DefaultPricing() Pricing {
	return Pricing{LessonPrice: decimal.Zero, Currency: "USD", LowBalanceThreshold: 3}
}

// Stats summarizes all balances.
type Stats struct {
	TotalStudents   int
	LowBalance      int // balance < threshold, negatives included
	NegativeBalance int
	TotalBalance    int

	// Prepaid is the value of all positive balances, Debt the value of all
	// negative ones (as a positive amount).
	Prepaid  decimal.Decimal
	Debt     decimal.Decimal
	Currency string
}

// ComputeStats derives Stats from students.
func ComputeStats(students []ledger.Student, p Pricing) Stats {
	s := Stats{
		TotalStudents: len(students),
		Prepaid:       decimal.Zero,
		Debt:          decimal.Zero,
		Currency:      p.Currency,
	}

	prepaid, owed := 0, 0
	for _, st := range students {
		s.TotalBalance += st.Balance
		if st.Balance < p.LowBalanceThreshold {
			s.LowBalance++
		}
		switch {
		case st.Balance < 0:
			s.NegativeBalance++
			owed -= st.Balance
		case st.Balance > 0:
			prepaid += st.Balance
		}
	}

	s.Prepaid = p.LessonPrice.Mul(decimal.NewFromInt(int64(prepaid)))
	s.Debt = p.LessonPrice.Mul(decimal.NewFromInt(int64(owed)))
	return s
}

// BalanceValue prices a single balance.
func (p Pricing) BalanceValue(balance int) decimal.Decimal {
	return p.LessonPrice.Mul(decimal.NewFromInt(int64(balance)))
}
