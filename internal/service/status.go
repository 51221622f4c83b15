package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/coopfin/backoffice/internal/domain"
	apperrors "github.com/coopfin/backoffice/pkg/errors"
	"github.com/coopfin/backoffice/pkg/utils"
)

// NextStatus derives the loan status implied by a freshly recomputed
// balance. The engine never changes status itself; this policy consumes
// the balance it produced.
//
// Transitions: pending -> active once the first payment lands; any
// non-paid loan whose balance reaches zero becomes paid; a delinquent
// loan that receives a new payment but still owes money returns to
// active. Paid is terminal.
func NextStatus(current string, paymentCount int, balance decimal.Decimal, newPayment bool) string {
	if current == domain.LoanStatusPaid {
		return current
	}
	if paymentCount > 0 && balance.IsZero() {
		return domain.LoanStatusPaid
	}
	if current == domain.LoanStatusPending && paymentCount > 0 {
		return domain.LoanStatusActive
	}
	if current == domain.LoanStatusDelinquent && newPayment {
		return domain.LoanStatusActive
	}
	return current
}

// MarkDelinquents flags active loans whose last activity is older than
// the configured threshold. Run daily by the scheduler.
func (s *LedgerService) MarkDelinquents(ctx context.Context) (int, error) {
	loans, err := s.loanRepo.ListByStatus(ctx, domain.LoanStatusActive)
	if err != nil {
		return 0, apperrors.WrapDatabaseError(err)
	}

	now := time.Now()
	marked := 0

	for _, loan := range loans {
		lastActivity := loan.CreatedAt

		latest, err := s.paymentRepo.GetLatestPayment(ctx, loan.LoanID)
		if err != nil {
			log.Error().Err(err).Str("loan_id", loan.LoanID).Msg("delinquency check failed, skipping loan")
			continue
		}
		if latest != nil {
			lastActivity = latest.PaymentDate
		}

		if utils.DaysBetween(lastActivity, now) <= s.config.Business.DelinquencyDays {
			continue
		}

		if err := s.loanRepo.UpdateStatus(ctx, loan.LoanID, domain.LoanStatusDelinquent); err != nil {
			log.Error().Err(err).Str("loan_id", loan.LoanID).Msg("failed to mark loan delinquent")
			continue
		}

		log.Info().Str("loan_id", loan.LoanID).Msg("loan marked delinquent")
		marked++
	}

	return marked, nil
}
