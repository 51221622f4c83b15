package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coopfin/backoffice/internal/domain"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (id, loan_id, principal, annual_rate_percent, term_months, status, outstanding_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.LoanID,
		loan.Principal,
		loan.AnnualRatePercent,
		loan.TermMonths,
		loan.Status,
		loan.OutstandingBalance,
		loan.CreatedAt,
		loan.UpdatedAt,
	)

	return err
}

func (r *loanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	query := `
		SELECT id, loan_id, principal, annual_rate_percent, term_months, status, outstanding_balance, created_at, updated_at
		FROM loans
		WHERE loan_id = $1
	`

	var loan domain.Loan
	err := r.db.GetContext(ctx, &loan, query, loanID)
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) ListLoanIDs(ctx context.Context) ([]string, error) {
	query := `SELECT loan_id FROM loans ORDER BY loan_id`

	var ids []string
	err := r.db.SelectContext(ctx, &ids, query)
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *loanRepository) ListByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	query := `
		SELECT id, loan_id, principal, annual_rate_percent, term_months, status, outstanding_balance, created_at, updated_at
		FROM loans
		WHERE status = $1
		ORDER BY loan_id
	`

	var loans []*domain.Loan
	err := r.db.SelectContext(ctx, &loans, query, status)
	if err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) UpdateStatus(ctx context.Context, loanID string, status string) error {
	query := `
		UPDATE loans
		SET status = $2, updated_at = $3
		WHERE loan_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, loanID, status, time.Now())
	return err
}
