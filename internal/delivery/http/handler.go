package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/domain"
	"github.com/azizikri/coupon-budget-ledger/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// orderDateLayout is accepted when order_date carries no zone.
const orderDateLayout = "2006-01-02T15:04:05"

type ManualApplyRequest struct {
	UserID      int64           `json:"user_id"`
	CouponCode  string          `json:"coupon_code"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	OrderDate   string          `json:"order_date"`
}

type AutoApplyRequest struct {
	UserID      int64           `json:"user_id"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	OrderDate   string          `json:"order_date"`
}

type RollbackRequest struct {
	UserID   int64 `json:"user_id"`
	CouponID int64 `json:"coupon_id"`
}

type ProvisionBudgetRequest struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

type ApplyResponse struct {
	usecase.ApplyResult
	Message string `json:"message,omitempty"`
}

type RollbackResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// BudgetAdmin is the budget provisioning surface.
type BudgetAdmin interface {
	Provision(ctx context.Context, id int64, amount decimal.Decimal) (domain.Budget, error)
	Get(ctx context.Context, id int64) (domain.Budget, error)
	Sync(ctx context.Context, id int64) (domain.Budget, error)
}

type Handler struct {
	coupons usecase.CouponApplier
	budgets BudgetAdmin
}

func NewHandler(coupons usecase.CouponApplier, budgets BudgetAdmin) *Handler {
	return &Handler{coupons: coupons, budgets: budgets}
}

// Routes mounts the API. limit, when non-nil, guards the coupon endpoints.
func (h *Handler) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit)
			}
			r.Post("/coupons/apply/manual", h.ApplyManual)
			r.Post("/coupons/apply/auto", h.ApplyAuto)
			r.Post("/coupons/rollback", h.Rollback)
		})

		r.Post("/budgets", h.ProvisionBudget)
		r.Get("/budgets/{id}", h.GetBudget)
		r.Post("/budgets/{id}/sync", h.SyncBudget)
	})
}

func (h *Handler) ApplyManual(w http.ResponseWriter, r *http.Request) {
	var req ManualApplyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	orderDate, err := parseOrderDate(req.OrderDate)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.coupons.ApplyManual(r.Context(), req.UserID, req.CouponCode, req.OrderAmount, orderDate)
	writeApply(w, r, res, err)
}

func (h *Handler) ApplyAuto(w http.ResponseWriter, r *http.Request) {
	var req AutoApplyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	orderDate, err := parseOrderDate(req.OrderDate)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.coupons.ApplyAuto(r.Context(), req.UserID, req.OrderAmount, orderDate)
	writeApply(w, r, res, err)
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := h.coupons.Rollback(r.Context(), req.UserID, req.CouponID)
	if err != nil {
		logFailure(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RollbackResponse{Success: ok})
}

func (h *Handler) ProvisionBudget(w http.ResponseWriter, r *http.Request) {
	var req ProvisionBudgetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	budget, err := h.budgets.Provision(r.Context(), req.ID, req.Amount)
	if err != nil {
		logFailure(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, budget)
}

func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	id, err := budgetID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	budget, err := h.budgets.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (h *Handler) SyncBudget(w http.ResponseWriter, r *http.Request) {
	id, err := budgetID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	budget, err := h.budgets.Sync(r.Context(), id)
	if err != nil {
		logFailure(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return nil
}

func budgetID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid budget id", domain.ErrValidation)
	}
	return id, nil
}

// parseOrderDate accepts RFC 3339 or a zoneless timestamp read as UTC. An
// empty value yields the zero time, which the flow treats as now.
func parseOrderDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(orderDateLayout, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: order_date %q is not a timestamp", domain.ErrValidation, value)
}

func writeApply(w http.ResponseWriter, r *http.Request, res usecase.ApplyResult, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, ApplyResponse{ApplyResult: res})
		return
	}
	logFailure(r, err)
	writeJSON(w, statusFor(res.ErrorCode), ApplyResponse{ApplyResult: res, Message: message(err)})
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	writeJSON(w, statusFor(code), ErrorResponse{Code: code, Message: message(err)})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeNone, domain.CodeNoApplicableCoupon:
		return http.StatusOK
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientBudget, domain.CodeAlreadyReserved, domain.CodeDuplicate:
		return http.StatusConflict
	case domain.CodeNotUsable, domain.CodeRuleViolation:
		return http.StatusUnprocessableEntity
	case domain.CodeLockContention:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// message hides internal causes from clients.
func message(err error) string {
	if domain.CodeOf(err) == domain.CodeInternal {
		return "internal server error"
	}
	return err.Error()
}

func logFailure(r *http.Request, err error) {
	if domain.CodeOf(err) == domain.CodeInternal {
		log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
