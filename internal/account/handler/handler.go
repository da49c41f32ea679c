// Package handler exposes the account trust and fraud ledger endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"confirmit/internal/account/models"
	"confirmit/internal/account/service"
	"confirmit/internal/assemble"
	"confirmit/internal/platform/middleware"
	"confirmit/internal/transport/http/shared"
	apperrors "confirmit/pkg/errors"
)

// Service is what the handler needs from the trust cache.
type Service interface {
	Check(ctx context.Context, identifier, bankCode, businessLabel string) (*assemble.CheckResult, error)
	ReportFraud(ctx context.Context, input service.ReportInput) (*models.FraudReport, error)
	FraudSummary(ctx context.Context, identifier string) (*assemble.FraudSummary, error)
}

// Handler handles account endpoints.
type Handler struct {
	service  Service
	logger   *slog.Logger
	validate *validator.Validate
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  svc,
		logger:   logger,
		validate: validator.New(),
	}
}

// Register mounts the account routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/accounts/check", h.handleCheck)
	r.Post("/api/accounts/report-fraud", h.handleReportFraud)
	r.Get("/api/accounts/{identifier}/fraud-reports", h.handleFraudSummary)
}

type checkRequest struct {
	AccountNumber string `json:"account_number" validate:"required,min=6"`
	BankCode      string `json:"bank_code"`
	BusinessName  string `json:"business_name"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Check(ctx, req.AccountNumber, req.BankCode, req.BusinessName)
	if err != nil {
		h.logError(ctx, "check account", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

type reportFraudRequest struct {
	AccountNumber string `json:"account_number" validate:"required,min=6"`
	Category      string `json:"category" validate:"required"`
	Description   string `json:"description" validate:"max=2000"`
	BusinessName  string `json:"business_name"`
}

func (h *Handler) handleReportFraud(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reportFraudRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.service.ReportFraud(ctx, service.ReportInput{
		Identifier:    req.AccountNumber,
		Category:      req.Category,
		Description:   req.Description,
		BusinessLabel: req.BusinessName,
		ReporterRef:   middleware.GetActor(ctx),
	})
	if err != nil {
		h.logError(ctx, "report fraud", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"report_id": report.ID,
		"severity":  report.Severity,
	})
}

func (h *Handler) handleFraudSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.FraudSummary(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, summary)
}

// decode parses and validates a JSON request body, writing the error response
// itself when the input is bad.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		shared.WriteError(w, apperrors.New(apperrors.CodeBadRequest, "invalid request body"))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		shared.WriteError(w, apperrors.New(apperrors.CodeBadRequest, "invalid request: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) logError(ctx context.Context, op string, err error) {
	if apperrors.Is(err, apperrors.CodeBadRequest) || apperrors.Is(err, apperrors.CodeNotFound) {
		return
	}
	h.logger.ErrorContext(ctx, op,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}
