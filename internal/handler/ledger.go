package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/coopfin/backoffice/internal/domain"
	"github.com/coopfin/backoffice/internal/ledger"
	apperrors "github.com/coopfin/backoffice/pkg/errors"
	"github.com/coopfin/backoffice/pkg/response"
	"github.com/coopfin/backoffice/pkg/utils"
)

// LedgerService is the surface of the service layer the HTTP handlers
// consume.
type LedgerService interface {
	CreateLoan(ctx context.Context, request *domain.CreateLoanRequest) (*domain.Loan, error)
	GetLoan(ctx context.Context, loanID string) (*domain.Loan, error)
	RegisterPayment(ctx context.Context, loanID string, amount decimal.Decimal, paymentDate time.Time) (*domain.Payment, error)
	RecomputeLoan(ctx context.Context, loanID string) (*ledger.Result, error)
	RecomputeAll(ctx context.Context) (*domain.RecomputeAllResponse, error)
	GetOutstanding(ctx context.Context, loanID string) (decimal.Decimal, error)
	GetLedger(ctx context.Context, loanID string) (*domain.LedgerResponse, error)
	ProjectedSchedule(ctx context.Context, loanID string) ([]*domain.Installment, error)
}

type LedgerHandler struct {
	service   LedgerService
	validator *validator.Validate
}

func NewLedgerHandler(service LedgerService) *LedgerHandler {
	return &LedgerHandler{
		service:   service,
		validator: validator.New(),
	}
}

// CreateLoan handles POST /api/v1/loans
func (h *LedgerHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var request domain.CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		response.BadRequest(w, "invalid loan request", err)
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), &request)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, loan)
}

// GetLoan handles GET /api/v1/loans/{loanId}
func (h *LedgerHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, loan)
}

// RegisterPayment handles POST /api/v1/loans/{loanId}/payments
func (h *LedgerHandler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	var request domain.RegisterPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		response.BadRequest(w, "invalid payment request", err)
		return
	}

	paymentDate, err := utils.ParseDate(request.PaymentDate)
	if err != nil {
		response.BadRequest(w, "payment_date must be YYYY-MM-DD", err)
		return
	}

	payment, err := h.service.RegisterPayment(r.Context(), loanID, request.Amount, paymentDate)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, payment)
}

// GetLedger handles GET /api/v1/loans/{loanId}/ledger
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	ledgerResp, err := h.service.GetLedger(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, ledgerResp)
}

// GetOutstanding handles GET /api/v1/loans/{loanId}/outstanding
func (h *LedgerHandler) GetOutstanding(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	outstanding, err := h.service.GetOutstanding(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, domain.OutstandingResponse{
		LoanID:      loanID,
		Outstanding: outstanding,
	})
}

// GetSchedule handles GET /api/v1/loans/{loanId}/schedule
func (h *LedgerHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	schedule, err := h.service.ProjectedSchedule(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, domain.ScheduleResponse{
		LoanID:   loanID,
		Schedule: schedule,
	})
}

// RecomputeLoan handles POST /api/v1/loans/{loanId}/recompute
func (h *LedgerHandler) RecomputeLoan(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	result, err := h.service.RecomputeLoan(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, domain.RecomputeResponse{
		LoanID:       loanID,
		Payments:     len(result.Lines),
		FinalBalance: result.FinalBalance,
	})
}

// RecomputeAll handles POST /api/v1/admin/recompute
func (h *LedgerHandler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RecomputeAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, summary)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrLoanNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, apperrors.ErrLoanAlreadyExists):
		response.Error(w, http.StatusConflict, "loan already exists", err)
	case errors.Is(err, apperrors.ErrInvalidLoan), errors.Is(err, apperrors.ErrInvalidPayment):
		response.BadRequest(w, "invalid input", err)
	default:
		response.InternalServerError(w, "internal error", err)
	}
}
