package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/coopfin/backoffice/internal/domain"
	"github.com/coopfin/backoffice/internal/ledger"
	"github.com/coopfin/backoffice/internal/repository"
)

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	args := m.Called(ctx, loan)
	return args.Error(0)
}

func (m *MockLoanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) ListLoanIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockLoanRepository) ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) UpdateStatus(ctx context.Context, loanID string, status string) error {
	args := m.Called(ctx, loanID, status)
	return args.Error(0)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByLoanID(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetLatestPayment(ctx context.Context, loanID string) (*domain.Payment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

// MockLedgerRepository serves RecomputeLedger callbacks from the Loan
// and Payments fields, standing in for the snapshot a real transaction
// reads under lock.
type MockLedgerRepository struct {
	mock.Mock

	Loan     *domain.Loan
	Payments []*domain.Payment
	Outcomes []*repository.RecomputeOutcome
}

func (m *MockLedgerRepository) LoanWithPayments(ctx context.Context, loanID string) (*domain.Loan, []*domain.Payment, error) {
	args := m.Called(ctx, loanID)
	var loan *domain.Loan
	if args.Get(0) != nil {
		loan = args.Get(0).(*domain.Loan)
	}
	var payments []*domain.Payment
	if args.Get(1) != nil {
		payments = args.Get(1).([]*domain.Payment)
	}
	return loan, payments, args.Error(2)
}

// RecomputeLedger mimics the locked read-compute-write cycle: the
// expectation is matched on (ctx, loanID), the callback runs against the
// canned Loan and Payments the test set up, and the outcome that would
// have been persisted is captured in Outcomes for assertions.
func (m *MockLedgerRepository) RecomputeLedger(ctx context.Context, loanID string, compute repository.RecomputeFunc) (*ledger.Result, error) {
	args := m.Called(ctx, loanID)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	outcome, err := compute(m.Loan, m.Payments)
	if err != nil {
		return nil, err
	}
	m.Outcomes = append(m.Outcomes, outcome)
	return outcome.Result, nil
}
