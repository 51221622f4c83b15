package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is one repayment against a loan. AmountPaid is the only true
// input; InterestPortion, CapitalPortion and BalanceAfter are derived and
// rewritten by every ledger recomputation.
//
// The authoritative ordering for recomputation is (PaymentDate asc, ID asc).
// ID is assigned by the database in entry order and breaks ties between
// payments registered on the same date.
type Payment struct {
	ID              int64           `json:"id" db:"id"`
	LoanID          string          `json:"loan_id" db:"loan_id"`
	PaymentDate     time.Time       `json:"payment_date" db:"payment_date"`
	AmountPaid      decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	InterestPortion decimal.Decimal `json:"interest_portion" db:"interest_portion"`
	CapitalPortion  decimal.Decimal `json:"capital_portion" db:"capital_portion"`
	BalanceAfter    decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
