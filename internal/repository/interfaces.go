package repository

import (
	"context"

	"github.com/coopfin/backoffice/internal/domain"
	"github.com/coopfin/backoffice/internal/ledger"
)

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Create creates a new loan
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByLoanID retrieves a loan by its loan ID
	GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error)

	// ListLoanIDs returns the loan IDs of every loan, all statuses
	ListLoanIDs(ctx context.Context) ([]string, error)

	// ListByStatus returns every loan in the given status
	ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error)

	// UpdateStatus sets the status of a loan
	UpdateStatus(ctx context.Context, loanID string, status string) error
}

// PaymentRepository defines the interface for payment data operations
type PaymentRepository interface {
	// Create inserts a payment and fills in its database-assigned ID
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByLoanID retrieves all payments for a loan ordered by
	// (payment_date, id)
	GetByLoanID(ctx context.Context, loanID string) ([]*domain.Payment, error)

	// GetLatestPayment gets the most recent payment for a loan, or nil
	// when the loan has none
	GetLatestPayment(ctx context.Context, loanID string) (*domain.Payment, error)
}

// RecomputeOutcome is what one engine pass wants persisted: the derived
// ledger lines, whether the loan's stored balance may be overwritten,
// and an optional status transition. An empty NextStatus leaves the
// status alone.
type RecomputeOutcome struct {
	Result       *ledger.Result
	WriteBalance bool
	NextStatus   string
}

// RecomputeFunc runs the engine over a loan snapshot read under lock and
// decides what to persist. Returning an error rolls everything back.
type RecomputeFunc func(loan *domain.Loan, payments []*domain.Payment) (*RecomputeOutcome, error)

// LedgerRepository is the storage surface of the recompute driver: one
// consistent read of a loan with its ordered payments, and the locked
// read-compute-write cycle of a full recompute.
type LedgerRepository interface {
	// LoanWithPayments loads a loan and its payments ordered by
	// (payment_date, id)
	LoanWithPayments(ctx context.Context, loanID string) (*domain.Loan, []*domain.Payment, error)

	// RecomputeLedger runs one full recompute pass in a single
	// transaction: the loan row is locked for update before the
	// snapshot is read, so concurrent recomputes of the same loan
	// serialize over the whole load-compute-persist cycle and the
	// stored ledger always reflects exactly one consistent pass
	RecomputeLedger(ctx context.Context, loanID string, compute RecomputeFunc) (*ledger.Result, error)
}
