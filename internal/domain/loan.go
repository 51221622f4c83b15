package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	LoanStatusPending    = "pending"
	LoanStatusActive     = "active"
	LoanStatusDelinquent = "delinquent"
	LoanStatusPaid       = "paid"
)

// Loan represents a member loan. AnnualRatePercent is the nominal annual
// rate as a percentage, e.g. 18.0 means 18% per year.
type Loan struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	LoanID             string          `json:"loan_id" db:"loan_id"`
	Principal          decimal.Decimal `json:"principal" db:"principal"`
	AnnualRatePercent  decimal.Decimal `json:"annual_rate_percent" db:"annual_rate_percent"`
	TermMonths         int             `json:"term_months" db:"term_months"`
	Status             string          `json:"status" db:"status"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance" db:"outstanding_balance"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	LoanID            string          `json:"loan_id" validate:"required"`
	Principal         decimal.Decimal `json:"principal" validate:"required"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent" validate:"required"`
	TermMonths        int             `json:"term_months" validate:"required,gt=0"`
}

type RegisterPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	PaymentDate string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
}

type OutstandingResponse struct {
	LoanID      string          `json:"loan_id"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

type LedgerResponse struct {
	LoanID             string          `json:"loan_id"`
	Payments           []*Payment      `json:"payments"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
}

type RecomputeResponse struct {
	LoanID       string          `json:"loan_id"`
	Payments     int             `json:"payments"`
	FinalBalance decimal.Decimal `json:"final_balance"`
}

type RecomputeAllResponse struct {
	Processed int      `json:"processed"`
	Failed    []string `json:"failed,omitempty"`
}
