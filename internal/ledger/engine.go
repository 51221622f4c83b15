// Package ledger implements the amortization engine: deterministic
// recomputation of a loan's payment ledger under the French
// declining-balance convention.
//
// The engine is a pure function over values. It performs no I/O, never
// mutates its inputs, and is safe to call concurrently for different
// loans; callers that recompute the same loan concurrently must serialize
// access themselves (the repository runs each pass in a transaction that
// locks the loan row before reading the snapshot).
package ledger

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coopfin/backoffice/internal/domain"
	apperrors "github.com/coopfin/backoffice/pkg/errors"
)

// Line is the derived ledger entry for one payment: the interest/capital
// split and the outstanding balance after the payment is applied.
type Line struct {
	PaymentID       int64
	InterestPortion decimal.Decimal
	CapitalPortion  decimal.Decimal
	BalanceAfter    decimal.Decimal
}

// Result is the outcome of one recompute pass over a loan's full payment
// history. Lines follow the authoritative payment order. FinalBalance is
// the outstanding balance after the last payment.
type Result struct {
	Lines        []Line
	FinalBalance decimal.Decimal
}

var (
	hundred = decimal.NewFromInt(100)
	months  = decimal.NewFromInt(12)
)

// Recompute derives the interest/capital split and running balance for
// every payment of a loan, in (payment_date, id) order, and returns the
// final outstanding balance.
//
// Every monetary intermediate is rounded half-up to 2 decimal places
// before the next step uses it, so a full recompute reproduces exactly
// the ledger that would have accumulated payment by payment over time.
// Running the engine twice on the same inputs yields identical output.
//
// An empty payment history is a no-op: the loan's current balance is
// returned and no ledger lines are produced.
func Recompute(loan *domain.Loan, payments []*domain.Payment) (*Result, error) {
	if err := validateLoan(loan); err != nil {
		return nil, err
	}

	if len(payments) == 0 {
		return &Result{FinalBalance: loan.OutstandingBalance}, nil
	}

	ordered, err := orderPayments(loan.LoanID, payments)
	if err != nil {
		return nil, err
	}

	// annual percent -> monthly periodic rate
	monthlyRate := loan.AnnualRatePercent.Div(hundred).Div(months)

	balance := loan.Principal
	lines := make([]Line, 0, len(ordered))

	for _, p := range ordered {
		accrued := balance.Mul(monthlyRate).Round(2)

		// Interest due is capped at what was actually paid. A payment
		// smaller than the accrued interest reduces no capital, and the
		// shortfall is not carried forward to the next accrual base.
		interest := decimal.Min(p.AmountPaid, accrued).Round(2)
		capital := decimal.Max(decimal.Zero, p.AmountPaid.Sub(accrued)).Round(2)
		balance = decimal.Max(decimal.Zero, balance.Sub(capital)).Round(2)

		lines = append(lines, Line{
			PaymentID:       p.ID,
			InterestPortion: interest,
			CapitalPortion:  capital,
			BalanceAfter:    balance,
		})
	}

	return &Result{Lines: lines, FinalBalance: balance}, nil
}

// ProjectSchedule computes the constant-installment French schedule for a
// loan over its full term, for display only; projections are never
// persisted. The closed-form installment P*r*(1+r)^n / ((1+r)^n - 1) is
// evaluated in float64, then all monetary arithmetic switches back to
// decimal. The final period absorbs the rounding drift so the projected
// balance lands on exactly zero.
func ProjectSchedule(loan *domain.Loan) ([]*domain.Installment, error) {
	if err := validateLoan(loan); err != nil {
		return nil, err
	}
	if loan.TermMonths <= 0 {
		return nil, apperrors.WrapInvalidLoan(loan.LoanID, "term_months must be positive")
	}

	monthlyRate := loan.AnnualRatePercent.Div(hundred).Div(months)
	n := loan.TermMonths

	var installment decimal.Decimal
	if monthlyRate.IsZero() {
		installment = loan.Principal.Div(decimal.NewFromInt(int64(n))).Round(2)
	} else {
		r, _ := monthlyRate.Float64()
		factor := math.Pow(1+r, float64(n))
		pf, _ := loan.Principal.Float64()
		installment = decimal.NewFromFloat(pf * r * factor / (factor - 1)).Round(2)
	}

	schedule := make([]*domain.Installment, 0, n)
	balance := loan.Principal

	for period := 1; period <= n; period++ {
		interest := balance.Mul(monthlyRate).Round(2)
		capital := installment.Sub(interest)
		total := installment

		if period == n {
			capital = balance
			total = capital.Add(interest)
		}

		balance = decimal.Max(decimal.Zero, balance.Sub(capital))

		schedule = append(schedule, &domain.Installment{
			Period:           period,
			Installment:      total,
			InterestPortion:  interest,
			CapitalPortion:   capital,
			RemainingBalance: balance,
		})
	}

	return schedule, nil
}

func validateLoan(loan *domain.Loan) error {
	if loan.Principal.LessThanOrEqual(decimal.Zero) {
		return apperrors.WrapInvalidLoan(loan.LoanID, "principal must be positive")
	}
	if loan.AnnualRatePercent.IsNegative() {
		return apperrors.WrapInvalidLoan(loan.LoanID, "annual rate must not be negative")
	}
	return nil
}

// orderPayments returns the payments sorted by (payment_date, id) without
// mutating the caller's slice. The ordering is validated rather than
// trusted: a non-positive amount or two payments indistinguishable under
// the ordering key abort the whole recompute, since skipping either would
// silently corrupt every balance downstream.
func orderPayments(loanID string, payments []*domain.Payment) ([]*domain.Payment, error) {
	ordered := make([]*domain.Payment, len(payments))
	copy(ordered, payments)

	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].PaymentDate.Equal(ordered[j].PaymentDate) {
			return ordered[i].PaymentDate.Before(ordered[j].PaymentDate)
		}
		return ordered[i].ID < ordered[j].ID
	})

	for i, p := range ordered {
		if p.AmountPaid.LessThanOrEqual(decimal.Zero) {
			return nil, apperrors.WrapInvalidPayment(loanID, p.ID, "amount_paid must be positive")
		}
		if i > 0 {
			prev := ordered[i-1]
			if prev.PaymentDate.Equal(p.PaymentDate) && prev.ID == p.ID {
				return nil, apperrors.WrapInvalidPayment(loanID, p.ID, "ordering is unresolvable: duplicate payment date and id")
			}
		}
	}

	return ordered, nil
}
