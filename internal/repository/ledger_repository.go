package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coopfin/backoffice/internal/domain"
	"github.com/coopfin/backoffice/internal/ledger"
)

const loanColumns = `id, loan_id, principal, annual_rate_percent, term_months, status, outstanding_balance, created_at, updated_at`

const paymentColumns = `id, loan_id, payment_date, amount_paid, interest_portion, capital_portion, balance_after, created_at`

type ledgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) LoanWithPayments(ctx context.Context, loanID string) (*domain.Loan, []*domain.Payment, error) {
	loanQuery := `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = $1`

	var loan domain.Loan
	if err := r.db.GetContext(ctx, &loan, loanQuery, loanID); err != nil {
		return nil, nil, err
	}

	payments, err := r.selectPayments(ctx, r.db, loanID)
	if err != nil {
		return nil, nil, err
	}

	return &loan, payments, nil
}

// RecomputeLedger runs one recompute pass in a single transaction. The
// loan row is locked for update before the snapshot is read, so two
// recomputes of the same loan cannot interleave: the second one blocks
// on the lock and then reads a snapshot that already includes the first
// one's writes. A crash mid-write rolls the whole pass back.
func (r *ledgerRepository) RecomputeLedger(ctx context.Context, loanID string, compute RecomputeFunc) (*ledger.Result, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lockQuery := `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = $1 FOR UPDATE`

	var loan domain.Loan
	if err = tx.GetContext(ctx, &loan, lockQuery, loanID); err != nil {
		return nil, err
	}

	payments, err := r.selectPayments(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}

	outcome, err := compute(&loan, payments)
	if err != nil {
		return nil, err
	}

	lineQuery := `
		UPDATE payments
		SET interest_portion = $2, capital_portion = $3, balance_after = $4
		WHERE id = $1
	`

	for _, line := range outcome.Result.Lines {
		if _, err = tx.ExecContext(ctx, lineQuery,
			line.PaymentID,
			line.InterestPortion,
			line.CapitalPortion,
			line.BalanceAfter,
		); err != nil {
			return nil, err
		}
	}

	if outcome.WriteBalance && len(outcome.Result.Lines) > 0 {
		balanceQuery := `
			UPDATE loans
			SET outstanding_balance = $2, updated_at = $3
			WHERE loan_id = $1
		`
		if _, err = tx.ExecContext(ctx, balanceQuery, loanID, outcome.Result.FinalBalance, time.Now()); err != nil {
			return nil, err
		}
	}

	if outcome.NextStatus != "" && outcome.NextStatus != loan.Status {
		statusQuery := `
			UPDATE loans
			SET status = $2, updated_at = $3
			WHERE loan_id = $1
		`
		if _, err = tx.ExecContext(ctx, statusQuery, loanID, outcome.NextStatus, time.Now()); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return outcome.Result, nil
}

func (r *ledgerRepository) selectPayments(ctx context.Context, q sqlx.QueryerContext, loanID string) ([]*domain.Payment, error) {
	paymentQuery := `SELECT ` + paymentColumns + ` FROM payments WHERE loan_id = $1 ORDER BY payment_date, id`

	var payments []*domain.Payment
	if err := sqlx.SelectContext(ctx, q, &payments, paymentQuery, loanID); err != nil {
		return nil, err
	}

	return payments, nil
}
