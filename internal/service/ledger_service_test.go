package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/coopfin/backoffice/internal/config"
	"github.com/coopfin/backoffice/internal/domain"
	apperrors "github.com/coopfin/backoffice/pkg/errors"
	"github.com/coopfin/backoffice/tests/mocks"
)

func newTestService(loanRepo *mocks.MockLoanRepository, paymentRepo *mocks.MockPaymentRepository, ledgerRepo *mocks.MockLedgerRepository) *LedgerService {
	cfg := &config.Config{
		Business: config.BusinessConfig{DelinquencyDays: 30},
	}
	return NewLedgerService(loanRepo, paymentRepo, ledgerRepo, nil, cfg)
}

func activeLoan(loanID string, principal float64, ratePercent float64) *domain.Loan {
	p := decimal.NewFromFloat(principal)
	return &domain.Loan{
		LoanID:             loanID,
		Principal:          p,
		AnnualRatePercent:  decimal.NewFromFloat(ratePercent),
		TermMonths:         12,
		Status:             domain.LoanStatusActive,
		OutstandingBalance: p,
	}
}

func TestCreateLoan(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		loanRepo := &mocks.MockLoanRepository{}
		svc := newTestService(loanRepo, &mocks.MockPaymentRepository{}, &mocks.MockLedgerRepository{})

		loanRepo.On("GetByLoanID", mock.Anything, "LN-100").Return(nil, sql.ErrNoRows)
		loanRepo.On("Create", mock.Anything, mock.MatchedBy(func(loan *domain.Loan) bool {
			return loan.LoanID == "LN-100" &&
				loan.Status == domain.LoanStatusPending &&
				loan.OutstandingBalance.Equal(loan.Principal)
		})).Return(nil)

		loan, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
			LoanID:            "LN-100",
			Principal:         decimal.NewFromInt(5000),
			AnnualRatePercent: decimal.NewFromFloat(18.0),
			TermMonths:        24,
		})

		require.NoError(t, err)
		assert.Equal(t, domain.LoanStatusPending, loan.Status)
		loanRepo.AssertExpectations(t)
	})

	t.Run("duplicate loan rejected", func(t *testing.T) {
		loanRepo := &mocks.MockLoanRepository{}
		svc := newTestService(loanRepo, &mocks.MockPaymentRepository{}, &mocks.MockLedgerRepository{})

		loanRepo.On("GetByLoanID", mock.Anything, "LN-100").Return(&domain.Loan{LoanID: "LN-100"}, nil)

		loan, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
			LoanID:            "LN-100",
			Principal:         decimal.NewFromInt(5000),
			AnnualRatePercent: decimal.NewFromFloat(18.0),
			TermMonths:        24,
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrLoanAlreadyExists))
		assert.Nil(t, loan)
	})

	t.Run("concurrent create loses race on unique constraint", func(t *testing.T) {
		loanRepo := &mocks.MockLoanRepository{}
		svc := newTestService(loanRepo, &mocks.MockPaymentRepository{}, &mocks.MockLedgerRepository{})

		// The existence check passes because the competing create has
		// not committed yet; the insert then hits the loan_id unique
		// constraint and must surface as a duplicate, not a 500.
		loanRepo.On("GetByLoanID", mock.Anything, "LN-100").Return(nil, sql.ErrNoRows)
		loanRepo.On("Create", mock.Anything, mock.Anything).Return(&pq.Error{Code: "23505"})

		loan, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
			LoanID:            "LN-100",
			Principal:         decimal.NewFromInt(5000),
			AnnualRatePercent: decimal.NewFromFloat(18.0),
			TermMonths:        24,
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrLoanAlreadyExists))
		assert.Nil(t, loan)
	})

	t.Run("invalid principal rejected", func(t *testing.T) {
		loanRepo := &mocks.MockLoanRepository{}
		svc := newTestService(loanRepo, &mocks.MockPaymentRepository{}, &mocks.MockLedgerRepository{})

		loanRepo.On("GetByLoanID", mock.Anything, "LN-100").Return(nil, sql.ErrNoRows)

		_, err := svc.CreateLoan(context.Background(), &domain.CreateLoanRequest{
			LoanID:            "LN-100",
			Principal:         decimal.Zero,
			AnnualRatePercent: decimal.NewFromFloat(18.0),
			TermMonths:        24,
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidLoan))
		loanRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestRegisterPayment_FullPayoff(t *testing.T) {
	loanRepo := &mocks.MockLoanRepository{}
	paymentRepo := &mocks.MockPaymentRepository{}
	ledgerRepo := &mocks.MockLedgerRepository{}
	svc := newTestService(loanRepo, paymentRepo, ledgerRepo)

	loan := activeLoan("LN-1", 1000.00, 12.0)
	paymentDate := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	// Dry-run load sees no payments yet.
	ledgerRepo.On("LoanWithPayments", mock.Anything, "LN-1").Return(loan, []*domain.Payment{}, nil).Once()

	// The recompute snapshot, read under lock, sees the new payment.
	ledgerRepo.Loan = loan
	paymentRepo.On("Create", mock.Anything, mock.MatchedBy(func(p *domain.Payment) bool {
		return p.LoanID == "LN-1" && p.AmountPaid.Equal(decimal.NewFromFloat(1010.00))
	})).Run(func(args mock.Arguments) {
		inserted := args.Get(1).(*domain.Payment)
		inserted.ID = 1
		ledgerRepo.Payments = append(ledgerRepo.Payments, inserted)
	}).Return(nil).Once()

	ledgerRepo.On("RecomputeLedger", mock.Anything, "LN-1").Return(nil).Once()

	payment, err := svc.RegisterPayment(context.Background(), "LN-1", decimal.NewFromFloat(1010.00), paymentDate)

	require.NoError(t, err)
	assert.Equal(t, int64(1), payment.ID)
	assert.True(t, payment.InterestPortion.Equal(decimal.NewFromInt(10)))
	assert.True(t, payment.CapitalPortion.Equal(decimal.NewFromInt(1000)))
	assert.True(t, payment.BalanceAfter.IsZero())

	require.Len(t, ledgerRepo.Outcomes, 1)
	outcome := ledgerRepo.Outcomes[0]
	assert.True(t, outcome.WriteBalance)
	assert.True(t, outcome.Result.FinalBalance.IsZero())
	// Balance hit zero, so the status policy promotes the loan to paid.
	assert.Equal(t, domain.LoanStatusPaid, outcome.NextStatus)

	ledgerRepo.AssertExpectations(t)
	paymentRepo.AssertExpectations(t)
	loanRepo.AssertExpectations(t)
}

func TestRegisterPayment_RecomputeIncludesConcurrentPayment(t *testing.T) {
	loanRepo := &mocks.MockLoanRepository{}
	paymentRepo := &mocks.MockPaymentRepository{}
	ledgerRepo := &mocks.MockLedgerRepository{}
	svc := newTestService(loanRepo, paymentRepo, ledgerRepo)

	loan := activeLoan("LN-1", 1000.00, 12.0)

	// The dry-run snapshot predates a competing registration.
	ledgerRepo.On("LoanWithPayments", mock.Anything, "LN-1").Return(loan, []*domain.Payment{}, nil).Once()

	// By the time the recompute acquires the row lock, another payment
	// has been committed. The locked snapshot must include it, so the
	// final balance accounts for both payments rather than reverting to
	// a single-payment ledger.
	concurrent := &domain.Payment{
		ID:          1,
		LoanID:      "LN-1",
		PaymentDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		AmountPaid:  decimal.NewFromFloat(200.00),
	}
	ledgerRepo.Loan = loan
	ledgerRepo.Payments = []*domain.Payment{concurrent}
	paymentRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted := args.Get(1).(*domain.Payment)
		inserted.ID = 2
		ledgerRepo.Payments = append(ledgerRepo.Payments, inserted)
	}).Return(nil).Once()

	ledgerRepo.On("RecomputeLedger", mock.Anything, "LN-1").Return(nil).Once()

	payment, err := svc.RegisterPayment(context.Background(), "LN-1",
		decimal.NewFromFloat(200.00), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	require.Len(t, ledgerRepo.Outcomes, 1)
	outcome := ledgerRepo.Outcomes[0]

	// 1000 @ 12%: 200 leaves 810, the second 200 accrues 8.10 interest
	// and leaves 618.10. A recompute over a stale single-payment
	// snapshot would have stored 810 instead.
	require.Len(t, outcome.Result.Lines, 2)
	assert.True(t, outcome.Result.Lines[0].BalanceAfter.Equal(decimal.NewFromFloat(810.00)))
	assert.True(t, outcome.Result.FinalBalance.Equal(decimal.NewFromFloat(618.10)))
	assert.True(t, payment.BalanceAfter.Equal(decimal.NewFromFloat(618.10)))
	ledgerRepo.AssertExpectations(t)
}

func TestRegisterPayment_InvalidAmountRejectedBeforeInsert(t *testing.T) {
	loanRepo := &mocks.MockLoanRepository{}
	paymentRepo := &mocks.MockPaymentRepository{}
	ledgerRepo := &mocks.MockLedgerRepository{}
	svc := newTestService(loanRepo, paymentRepo, ledgerRepo)

	loan := activeLoan("LN-1", 1000.00, 12.0)
	ledgerRepo.On("LoanWithPayments", mock.Anything, "LN-1").Return(loan, []*domain.Payment{}, nil).Once()

	_, err := svc.RegisterPayment(context.Background(), "LN-1", decimal.Zero, time.Now())

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidPayment))
	paymentRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	ledgerRepo.AssertNotCalled(t, "RecomputeLedger", mock.Anything, mock.Anything)
}

func TestRecomputeLoan_PaidLoanBalanceNotRewritten(t *testing.T) {
	loanRepo := &mocks.MockLoanRepository{}
	ledgerRepo := &mocks.MockLedgerRepository{}
	svc := newTestService(loanRepo, &mocks.MockPaymentRepository{}, ledgerRepo)

	loan := activeLoan("LN-2", 1000.00, 12.0)
	loan.Status = domain.LoanStatusPaid
	loan.OutstandingBalance = decimal.Zero

	ledgerRepo.Loan = loan
	ledgerRepo.Payments = []*domain.Payment{
		{ID: 1, LoanID: "LN-2", PaymentDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), AmountPaid: decimal.NewFromFloat(1010.00)},
	}
	ledgerRepo.On("RecomputeLedger", mock.Anything, "LN-2").Return(nil).Once()

	result, err := svc.RecomputeLoan(context.Background(), "LN-2")

	require.NoError(t, err)
	assert.True(t, result.FinalBalance.IsZero())

	// Ledger lines may be re-derived for audit, but the stored balance
	// of a paid loan is left untouched and the status stays terminal.
	require.Len(t, ledgerRepo.Outcomes, 1)
	assert.False(t, ledgerRepo.Outcomes[0].WriteBalance)
	assert.Empty(t, ledgerRepo.Outcomes[0].NextStatus)
	ledgerRepo.AssertExpectations(t)
	loanRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecomputeLoan_NoPaymentsIsNoOp(t *testing.T) {
	ledgerRepo := &mocks.MockLedgerRepository{}
	svc := newTestService(&mocks.MockLoanRepository{}, &mocks.MockPaymentRepository{}, ledgerRepo)

	loan := activeLoan("LN-3", 750.00, 10.0)
	ledgerRepo.Loan = loan
	ledgerRepo.On("RecomputeLedger", mock.Anything, "LN-3").Return(nil).Once()

	result, err := svc.RecomputeLoan(context.Background(), "LN-3")

	require.NoError(t, err)
	assert.Empty(t, result.Lines)
	assert.True(t, result.FinalBalance.Equal(loan.OutstandingBalance))

	// An empty ledger writes nothing: no balance, no status change.
	require.Len(t, ledgerRepo.Outcomes, 1)
	assert.Empty(t, ledgerRepo.Outcomes[0].Result.Lines)
	assert.Empty(t, ledgerRepo.Outcomes[0].NextStatus)
}

func TestRecomputeLoan_NotFound(t *testing.T) {
	ledgerRepo := &mocks.MockLedgerRepository{}
	svc := newTestService(&mocks.MockLoanRepository{}, &mocks.MockPaymentRepository{}, ledgerRepo)

	ledgerRepo.On("RecomputeLedger", mock.Anything, "LN-404").Return(sql.ErrNoRows).Once()

	result, err := svc.RecomputeLoan(context.Background(), "LN-404")

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrLoanNotFound))
	assert.Nil(t, result)
}

func TestRecomputeAll_SkipsFailingLoans(t *testing.T) {
	loanRepo := &mocks.MockLoanRepository{}
	ledgerRepo := &mocks.MockLedgerRepository{}
	svc := newTestService(loanRepo, &mocks.MockPaymentRepository{}, ledgerRepo)

	loanRepo.On("ListLoanIDs", mock.Anything).Return([]string{"LN-BAD", "LN-OK"}, nil)

	ledgerRepo.On("RecomputeLedger", mock.Anything, "LN-BAD").Return(errors.New("corrupt row")).Once()

	ledgerRepo.Loan = activeLoan("LN-OK", 1200.00, 24.0)
	ledgerRepo.Payments = []*domain.Payment{
		{ID: 1, LoanID: "LN-OK", PaymentDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), AmountPaid: decimal.NewFromFloat(200.00)},
	}
	ledgerRepo.On("RecomputeLedger", mock.Anything, "LN-OK").Return(nil).Once()

	summary, err := svc.RecomputeAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"LN-BAD"}, summary.Failed)
	ledgerRepo.AssertExpectations(t)
}

func TestGetOutstanding_FallsBackToDatabase(t *testing.T) {
	loanRepo := &mocks.MockLoanRepository{}
	svc := newTestService(loanRepo, &mocks.MockPaymentRepository{}, &mocks.MockLedgerRepository{})

	loan := activeLoan("LN-5", 900.00, 6.0)
	loan.OutstandingBalance = decimal.NewFromFloat(450.50)
	loanRepo.On("GetByLoanID", mock.Anything, "LN-5").Return(loan, nil).Once()

	outstanding, err := svc.GetOutstanding(context.Background(), "LN-5")

	require.NoError(t, err)
	assert.True(t, outstanding.Equal(decimal.NewFromFloat(450.50)))
}
