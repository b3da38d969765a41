package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/auth"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/validation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerService is the subset of *service.LedgerService the HTTP surface calls.
type LedgerService interface {
	Preview(ctx context.Context, in service.FXTradeInput) (rates.Quote, error)
	ExecuteFXTrade(ctx context.Context, in service.FXTradeInput) (service.Report, error)
	CreateTransfer(ctx context.Context, in service.TransferInput) (service.Report, error)
	Record(ctx context.Context, op operation.Operation, actor string) (service.Report, error)
	GetOperation(ctx context.Context, id uuid.UUID) (operation.Operation, error)
	ListOperations(ctx context.Context, clientID uuid.UUID, filter operation.Filter) ([]operation.Operation, string, error)
	Transition(ctx context.Context, in service.TransitionInput) (service.Report, error)
	Delete(ctx context.Context, id uuid.UUID, actor string) (service.Report, error)
	ProvisionClient(ctx context.Context, in service.ClientInput) (store.Client, error)
	Balances(ctx context.Context, clientID uuid.UUID) ([]wallet.Balance, error)
	Usage(ctx context.Context, clientID uuid.UUID) (usage.Decision, error)
	UpdateLimit(ctx context.Context, clientID uuid.UUID, limit decimal.Decimal, actor string) (store.Client, error)
}

type Handler struct {
	Service LedgerService
	Logger  *slog.Logger
}

type errorResponse struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
	Details map[string]any      `json:"details,omitempty"`
}

func New(svc LedgerService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if err := validation.RegisterGin(); err != nil {
		logger.Error("register request validators failed", "error", err)
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	v1 := r.Group("/v1", auth.Middleware(jwtSecret))
	admin := v1.Group("", auth.RequireRole("admin"))

	v1.POST("/quotes", h.PreviewQuote)
	v1.POST("/operations/fx-trades", h.ExecuteFXTrade)
	v1.POST("/operations/transfers", h.CreateTransfer)
	v1.GET("/operations/:id", h.GetOperation)
	v1.GET("/clients/:id/operations", h.ListOperations)
	v1.GET("/clients/:id/wallets", h.ListWallets)
	v1.GET("/clients/:id/usage", h.GetUsage)

	admin.POST("/operations", h.RecordOperation)
	admin.PATCH("/operations/:id/status", h.TransitionOperation)
	admin.DELETE("/operations/:id", h.DeleteOperation)
	admin.POST("/clients", h.ProvisionClient)
	admin.PUT("/clients/:id/limit", h.UpdateLimit)
}

// writeError maps the service error taxonomy onto HTTP statuses and stable codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		verr     *apperr.ValidationError
		notFound *apperr.NotFoundError
		limit    *apperr.LimitExceededError
		funds    *apperr.InsufficientBalanceError
		partial  *apperr.PartialFailureError
		provider *apperr.ProviderError
	)
	switch {
	case errors.As(err, &funds):
		writeJSONError(c, http.StatusBadRequest, errorResponse{
			Code:    "INSUFFICIENT_BALANCE",
			Message: "insufficient balance",
			Details: map[string]any{
				"wallet":    funds.Wallet,
				"balance":   funds.Balance.StringFixed(2),
				"requested": funds.Requested.StringFixed(2),
			},
		})
	case errors.As(err, &verr):
		writeJSONError(c, http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid request", Fields: verr.Fields})
	case errors.As(err, &limit):
		writeJSONError(c, http.StatusUnprocessableEntity, errorResponse{
			Code:    "LIMIT_EXCEEDED",
			Message: "annual limit exceeded",
			Details: map[string]any{
				"limit":     limit.Limit.StringFixed(2),
				"usage":     limit.Usage.StringFixed(2),
				"requested": limit.Requested.StringFixed(2),
				"available": limit.Available.StringFixed(2),
			},
		})
	case errors.As(err, &notFound):
		code := "OPERATION_NOT_FOUND"
		if notFound.Entity == "client" {
			code = "CLIENT_NOT_FOUND"
		}
		writeJSONError(c, http.StatusNotFound, errorResponse{Code: code, Message: notFound.Error()})
	case errors.Is(err, apperr.ErrInvalidTransition):
		writeJSONError(c, http.StatusConflict, errorResponse{Code: "INVALID_TRANSITION", Message: err.Error()})
	case errors.As(err, &partial):
		h.Logger.Error("partial failure", "operation_id", partial.OperationID, "reconcile", partial.NeedsReconciliation(), "error", err)
		writeJSONError(c, http.StatusInternalServerError, errorResponse{
			Code:    "PARTIAL_FAILURE",
			Message: "operation failed after applying some effects",
			Details: map[string]any{
				"operation_id": partial.OperationID,
				"applied":      partial.Applied,
				"compensated":  partial.Compensated,
				"reconcile":    partial.NeedsReconciliation(),
			},
		})
	case errors.As(err, &provider):
		h.Logger.Warn("provider call failed", "op", provider.Op, "status", provider.Status, "error", err)
		writeJSONError(c, http.StatusBadGateway, errorResponse{Code: "PROVIDER_ERROR", Message: "quote provider unavailable"})
	case errors.Is(err, apperr.ErrProvider):
		writeJSONError(c, http.StatusBadGateway, errorResponse{Code: "PROVIDER_ERROR", Message: "quote provider unavailable"})
	default:
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		writeJSONError(c, http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}

func writeJSONError(c *gin.Context, status int, resp errorResponse) {
	c.AbortWithStatusJSON(status, resp)
}

func (h *Handler) bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		h.writeError(c, validation.FromBindError(err))
		return false
	}
	return true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := parseUUID(c.Param(name))
	if err != nil {
		writeJSONError(c, http.StatusBadRequest, errorResponse{
			Code:    "INVALID_REQUEST",
			Message: "invalid " + name,
			Fields:  []apperr.FieldError{{Field: name, Message: "must be a uuid"}},
		})
		return uuid.Nil, false
	}
	return id, true
}

func parseUUID(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

// optionalDecimal parses raw when set. Tags have already validated the format.
func optionalDecimal(raw string) *decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := validation.ParseDecimal(raw)
	if err != nil {
		return nil
	}
	return &d
}

func mustDecimal(raw string) decimal.Decimal {
	if d := optionalDecimal(raw); d != nil {
		return *d
	}
	return decimal.Zero
}

func currency(raw string) operation.Currency {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	c, err := operation.ParseCurrency(raw)
	if err != nil {
		return operation.Currency(raw)
	}
	return c
}
