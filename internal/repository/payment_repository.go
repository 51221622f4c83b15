package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/coopfin/backoffice/internal/domain"
)

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (loan_id, payment_date, amount_paid, interest_portion, capital_portion, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, query,
		payment.LoanID,
		payment.PaymentDate,
		payment.AmountPaid,
		payment.InterestPortion,
		payment.CapitalPortion,
		payment.BalanceAfter,
		payment.CreatedAt,
	).Scan(&payment.ID)
}

func (r *paymentRepository) GetByLoanID(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	query := `
		SELECT id, loan_id, payment_date, amount_paid, interest_portion, capital_portion, balance_after, created_at
		FROM payments
		WHERE loan_id = $1
		ORDER BY payment_date, id
	`

	var payments []*domain.Payment
	err := r.db.SelectContext(ctx, &payments, query, loanID)
	if err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *paymentRepository) GetLatestPayment(ctx context.Context, loanID string) (*domain.Payment, error) {
	query := `
		SELECT id, loan_id, payment_date, amount_paid, interest_portion, capital_portion, balance_after, created_at
		FROM payments
		WHERE loan_id = $1
		ORDER BY payment_date DESC, id DESC
		LIMIT 1
	`

	var payment domain.Payment
	err := r.db.GetContext(ctx, &payment, query, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &payment, nil
}
