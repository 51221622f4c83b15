package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/coopfin/backoffice/internal/config"
	"github.com/coopfin/backoffice/internal/domain"
	"github.com/coopfin/backoffice/internal/ledger"
	"github.com/coopfin/backoffice/internal/repository"
	apperrors "github.com/coopfin/backoffice/pkg/errors"
	"github.com/coopfin/backoffice/pkg/utils"
)

const outstandingCacheTTL = 24 * time.Hour

const pqUniqueViolation = pq.ErrorCode("23505")

// LedgerService is the driver around the amortization engine: it loads a
// loan with its payment history, invokes the engine, and persists the
// revised ledger and balance atomically. The engine itself stays free of
// storage, cache and clock dependencies.
type LedgerService struct {
	loanRepo    repository.LoanRepository
	paymentRepo repository.PaymentRepository
	ledgerRepo  repository.LedgerRepository
	redis       *redis.Client
	config      *config.Config
}

// NewLedgerService wires the service. The redis client may be nil, in
// which case outstanding-balance caching is skipped.
func NewLedgerService(
	loanRepo repository.LoanRepository,
	paymentRepo repository.PaymentRepository,
	ledgerRepo repository.LedgerRepository,
	redisClient *redis.Client,
	cfg *config.Config,
) *LedgerService {
	return &LedgerService{
		loanRepo:    loanRepo,
		paymentRepo: paymentRepo,
		ledgerRepo:  ledgerRepo,
		redis:       redisClient,
		config:      cfg,
	}
}

// CreateLoan registers a new loan in pending status with its balance set
// to the principal.
func (s *LedgerService) CreateLoan(ctx context.Context, request *domain.CreateLoanRequest) (*domain.Loan, error) {
	existing, err := s.loanRepo.GetByLoanID(ctx, request.LoanID)
	if err == nil && existing != nil {
		return nil, apperrors.WrapLoanAlreadyExists(request.LoanID)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.WrapDatabaseError(err)
	}

	if request.Principal.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.WrapInvalidLoan(request.LoanID, "principal must be positive")
	}
	if request.AnnualRatePercent.IsNegative() {
		return nil, apperrors.WrapInvalidLoan(request.LoanID, "annual rate must not be negative")
	}

	now := time.Now()
	loan := &domain.Loan{
		ID:                 uuid.New(),
		LoanID:             request.LoanID,
		Principal:          request.Principal,
		AnnualRatePercent:  request.AnnualRatePercent,
		TermMonths:         request.TermMonths,
		Status:             domain.LoanStatusPending,
		OutstandingBalance: request.Principal,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err = s.loanRepo.Create(ctx, loan); err != nil {
		// Two concurrent creates can both pass the existence check;
		// the loser hits the loan_id unique constraint.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, apperrors.WrapLoanAlreadyExists(request.LoanID)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	log.Info().Str("loan_id", loan.LoanID).Str("principal", loan.Principal.StringFixed(2)).Msg("loan created")

	return loan, nil
}

// GetLoan returns a loan snapshot.
func (s *LedgerService) GetLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := s.loanRepo.GetByLoanID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapLoanNotFound(loanID)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}
	return loan, nil
}

// RegisterPayment records a payment against a loan and recomputes the
// loan's full ledger. The candidate payment is validated through the
// engine before anything is written, so a recompute that would fail
// rejects the registration up front.
func (s *LedgerService) RegisterPayment(ctx context.Context, loanID string, amount decimal.Decimal, paymentDate time.Time) (*domain.Payment, error) {
	loan, payments, err := s.ledgerRepo.LoanWithPayments(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapLoanNotFound(loanID)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	payment := &domain.Payment{
		LoanID:      loanID,
		PaymentDate: paymentDate,
		AmountPaid:  amount,
		CreatedAt:   time.Now(),
	}

	// Dry run with the candidate appended. Engine validation failures
	// (invalid loan, non-positive amount) surface here, before insert.
	if _, err = ledger.Recompute(loan, append(payments[:len(payments):len(payments)], payment)); err != nil {
		return nil, err
	}

	if err = s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	result, err := s.recompute(ctx, loanID, true)
	if err != nil {
		return nil, err
	}

	for _, line := range result.Lines {
		if line.PaymentID == payment.ID {
			payment.InterestPortion = line.InterestPortion
			payment.CapitalPortion = line.CapitalPortion
			payment.BalanceAfter = line.BalanceAfter
			break
		}
	}

	log.Info().
		Str("loan_id", loanID).
		Int64("payment_id", payment.ID).
		Str("amount", amount.StringFixed(2)).
		Msg("payment registered")

	return payment, nil
}

// RecomputeLoan re-derives the full ledger of one loan on demand.
func (s *LedgerService) RecomputeLoan(ctx context.Context, loanID string) (*ledger.Result, error) {
	return s.recompute(ctx, loanID, false)
}

// RecomputeAll runs a bulk maintenance pass over every loan, all
// statuses included. A loan that fails to recompute is reported and
// skipped; the pass continues with the rest.
func (s *LedgerService) RecomputeAll(ctx context.Context) (*domain.RecomputeAllResponse, error) {
	loanIDs, err := s.loanRepo.ListLoanIDs(ctx)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	summary := &domain.RecomputeAllResponse{}
	for _, loanID := range loanIDs {
		if _, err := s.recompute(ctx, loanID, false); err != nil {
			log.Error().Err(err).Str("loan_id", loanID).Msg("recompute failed, skipping loan")
			summary.Failed = append(summary.Failed, loanID)
			continue
		}
		summary.Processed++
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("failed", len(summary.Failed)).
		Msg("bulk recompute finished")

	return summary, nil
}

// GetOutstanding returns the outstanding balance of a loan, reading
// through the cache when one is configured.
func (s *LedgerService) GetOutstanding(ctx context.Context, loanID string) (decimal.Decimal, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, outstandingKey(loanID)).Result()
		if err == nil {
			if balance, parseErr := utils.DecimalFromString(cached); parseErr == nil {
				return balance, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Warn().Err(apperrors.WrapCacheError(err)).Str("loan_id", loanID).Msg("outstanding cache read failed")
		}
	}

	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}

	s.cacheOutstanding(ctx, loanID, loan.OutstandingBalance)

	return loan.OutstandingBalance, nil
}

// GetLedger returns the loan's persisted per-payment ledger.
func (s *LedgerService) GetLedger(ctx context.Context, loanID string) (*domain.LedgerResponse, error) {
	loan, payments, err := s.ledgerRepo.LoanWithPayments(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapLoanNotFound(loanID)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	return &domain.LedgerResponse{
		LoanID:             loanID,
		Payments:           payments,
		OutstandingBalance: loan.OutstandingBalance,
	}, nil
}

// ProjectedSchedule computes the loan's forward-looking French schedule.
func (s *LedgerService) ProjectedSchedule(ctx context.Context, loanID string) ([]*domain.Installment, error) {
	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return ledger.ProjectSchedule(loan)
}

// recompute is the single path through the engine. The load, the engine
// pass and every write run inside one repository transaction with the
// loan row locked first, so concurrent recomputes of the same loan
// serialize end to end and never commit a stale snapshot.
func (s *LedgerService) recompute(ctx context.Context, loanID string, newPayment bool) (*ledger.Result, error) {
	var writeBalance bool
	var statusFrom, statusTo string

	result, err := s.ledgerRepo.RecomputeLedger(ctx, loanID, func(loan *domain.Loan, payments []*domain.Payment) (*repository.RecomputeOutcome, error) {
		engineResult, err := ledger.Recompute(loan, payments)
		if err != nil {
			return nil, err
		}

		// Paid loans are historical: their ledger may be re-derived
		// for audit, but the stored balance is never renormalized.
		writeBalance = loan.Status != domain.LoanStatusPaid

		outcome := &repository.RecomputeOutcome{
			Result:       engineResult,
			WriteBalance: writeBalance,
		}
		if next := NextStatus(loan.Status, len(payments), engineResult.FinalBalance, newPayment); next != loan.Status {
			outcome.NextStatus = next
			statusFrom, statusTo = loan.Status, next
		}
		return outcome, nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapLoanNotFound(loanID)
		}
		var bizErr *apperrors.BusinessError
		if errors.As(err, &bizErr) {
			return nil, err
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	if statusTo != "" {
		log.Info().Str("loan_id", loanID).Str("from", statusFrom).Str("to", statusTo).Msg("loan status changed")
	}

	// A loan without payments produced no ledger and no writes, so the
	// cache keeps whatever the stored balance already was.
	if len(result.Lines) > 0 && writeBalance {
		s.cacheOutstanding(ctx, loanID, result.FinalBalance)
	}

	return result, nil
}

func (s *LedgerService) cacheOutstanding(ctx context.Context, loanID string, balance decimal.Decimal) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, outstandingKey(loanID), balance.StringFixed(2), outstandingCacheTTL).Err(); err != nil {
		log.Warn().Err(apperrors.WrapCacheError(err)).Str("loan_id", loanID).Msg("outstanding cache write failed")
	}
}

func outstandingKey(loanID string) string {
	return fmt.Sprintf("loan:%s:outstanding", loanID)
}
