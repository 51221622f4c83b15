package domain

import (
	"github.com/shopspring/decimal"
)

// Installment is one projected period of a loan's French amortization
// schedule. Projections are computed on demand and never persisted; the
// payment ledger remains the source of truth for what actually happened.
type Installment struct {
	Period           int             `json:"period"`
	Installment      decimal.Decimal `json:"installment"`
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	CapitalPortion   decimal.Decimal `json:"capital_portion"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

type ScheduleResponse struct {
	LoanID   string         `json:"loan_id"`
	Schedule []*Installment `json:"schedule"`
}
