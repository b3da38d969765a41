package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/auth"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fxTradeRequest struct {
	ClientID       string `json:"client_id" binding:"required,uuid"`
	Side           string `json:"side" binding:"required,side"`
	SourceCurrency string `json:"source_currency" binding:"required,currency"`
	TargetCurrency string `json:"target_currency" binding:"required,currency"`
	Amount         string `json:"amount" binding:"required,positive"`
	Notes          string `json:"notes" binding:"max=500"`
}

func (r fxTradeRequest) input(actor string) service.FXTradeInput {
	side, _ := operation.ParseSide(r.Side)
	return service.FXTradeInput{
		ClientID:       uuid.MustParse(r.ClientID),
		Side:           side,
		SourceCurrency: currency(r.SourceCurrency),
		TargetCurrency: currency(r.TargetCurrency),
		Amount:         mustDecimal(r.Amount),
		Notes:          strings.TrimSpace(r.Notes),
		Actor:          actor,
	}
}

type transferRequest struct {
	ClientID            string `json:"client_id" binding:"required,uuid"`
	DestinationClientID string `json:"destination_client_id" binding:"omitempty,uuid"`
	Currency            string `json:"currency" binding:"required,currency"`
	TargetCurrency      string `json:"target_currency" binding:"omitempty,currency"`
	Amount              string `json:"amount" binding:"required,positive"`
	Notes               string `json:"notes" binding:"max=500"`
}

// recordRequest is the back-office form of an operation. Which amount and currency fields
// are required depends on the type and is checked by the service.
type recordRequest struct {
	Type                string `json:"type" binding:"required,kind"`
	Side                string `json:"side" binding:"omitempty,side"`
	ClientID            string `json:"client_id" binding:"required,uuid"`
	DestinationClientID string `json:"destination_client_id" binding:"omitempty,uuid"`
	SourceCurrency      string `json:"source_currency" binding:"omitempty,currency"`
	TargetCurrency      string `json:"target_currency" binding:"omitempty,currency"`
	SourceAmount        string `json:"source_amount" binding:"omitempty,decimal"`
	TargetAmount        string `json:"target_amount" binding:"omitempty,decimal"`
	ExchangeRate        string `json:"exchange_rate" binding:"omitempty,decimal"`
	BaseRate            string `json:"base_rate" binding:"omitempty,decimal"`
	MarkupPercentage    string `json:"markup_percentage" binding:"omitempty,decimal"`
	FixedRateAmount     string `json:"fixed_rate_amount" binding:"omitempty,decimal"`
	HomeAmount          string `json:"home_amount" binding:"omitempty,decimal"`
	Status              string `json:"status" binding:"omitempty,status"`
	ProviderOrderID     string `json:"provider_order_id" binding:"max=128"`
	Notes               string `json:"notes" binding:"max=500"`
}

func (r recordRequest) operation() operation.Operation {
	kind, _ := operation.ParseKind(r.Type)
	op := operation.Operation{
		Kind:             kind,
		ClientID:         uuid.MustParse(r.ClientID),
		SourceCurrency:   currency(r.SourceCurrency),
		TargetCurrency:   currency(r.TargetCurrency),
		SourceAmount:     mustDecimal(r.SourceAmount),
		TargetAmount:     mustDecimal(r.TargetAmount),
		ExchangeRate:     mustDecimal(r.ExchangeRate),
		BaseRate:         mustDecimal(r.BaseRate),
		MarkupPercentage: mustDecimal(r.MarkupPercentage),
		FixedRateAmount:  mustDecimal(r.FixedRateAmount),
		HomeAmount:       mustDecimal(r.HomeAmount),
		ProviderOrderID:  strings.TrimSpace(r.ProviderOrderID),
		Notes:            strings.TrimSpace(r.Notes),
	}
	if r.Side != "" {
		op.Side, _ = operation.ParseSide(r.Side)
	}
	if r.Status != "" {
		op.Status, _ = operation.ParseStatus(r.Status)
	}
	if r.DestinationClientID != "" {
		dest := uuid.MustParse(r.DestinationClientID)
		op.DestinationClientID = &dest
	}
	return op
}

// transitionRequest changes status, amends amounts, or both. An empty status with amounts
// is a pure amendment.
type transitionRequest struct {
	Status       string `json:"status" binding:"omitempty,status"`
	Notes        string `json:"notes" binding:"max=500"`
	SourceAmount string `json:"source_amount" binding:"omitempty,positive"`
	TargetAmount string `json:"target_amount" binding:"omitempty,positive"`
	ExchangeRate string `json:"exchange_rate" binding:"omitempty,positive"`
	HomeAmount   string `json:"home_amount" binding:"omitempty,decimal"`
}

type operationItem struct {
	ID                  string  `json:"id"`
	Type                string  `json:"type"`
	Side                string  `json:"side,omitempty"`
	ClientID            string  `json:"client_id"`
	DestinationClientID *string `json:"destination_client_id,omitempty"`
	SourceCurrency      string  `json:"source_currency,omitempty"`
	TargetCurrency      string  `json:"target_currency,omitempty"`
	SourceAmount        string  `json:"source_amount"`
	TargetAmount        string  `json:"target_amount"`
	ExchangeRate        string  `json:"exchange_rate"`
	BaseRate            string  `json:"base_rate,omitempty"`
	MarkupPercentage    string  `json:"markup_percentage,omitempty"`
	FixedRateAmount     string  `json:"fixed_rate_amount,omitempty"`
	HomeAmount          string  `json:"home_amount"`
	Status              string  `json:"status"`
	ProviderOrderID     string  `json:"provider_order_id,omitempty"`
	Notes               string  `json:"notes,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
	ExecutedAt          *string `json:"executed_at,omitempty"`
}

type reportResponse struct {
	Operation        *operationItem         `json:"operation,omitempty"`
	Wallets          []service.WalletChange `json:"wallets"`
	AnnualLimit      *service.UsageChange   `json:"annual_limit,omitempty"`
	NegativeBalances []service.WalletChange `json:"negative_balances,omitempty"`
	NoOp             bool                   `json:"no_op,omitempty"`
}

type listOperationsResponse struct {
	Operations []operationItem `json:"operations"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func (h *Handler) PreviewQuote(c *gin.Context) {
	var req fxTradeRequest
	if !h.bind(c, &req) {
		return
	}
	quote, err := h.Service.Preview(c.Request.Context(), req.input(auth.Actor(c)))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) ExecuteFXTrade(c *gin.Context) {
	var req fxTradeRequest
	if !h.bind(c, &req) {
		return
	}
	report, err := h.Service.ExecuteFXTrade(c.Request.Context(), req.input(auth.Actor(c)))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReportResponse(report))
}

func (h *Handler) CreateTransfer(c *gin.Context) {
	var req transferRequest
	if !h.bind(c, &req) {
		return
	}
	in := service.TransferInput{
		ClientID:       uuid.MustParse(req.ClientID),
		Currency:       currency(req.Currency),
		TargetCurrency: currency(req.TargetCurrency),
		Amount:         mustDecimal(req.Amount),
		Notes:          strings.TrimSpace(req.Notes),
		Actor:          auth.Actor(c),
	}
	if req.DestinationClientID != "" {
		dest := uuid.MustParse(req.DestinationClientID)
		in.DestinationClientID = &dest
	}
	report, err := h.Service.CreateTransfer(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReportResponse(report))
}

func (h *Handler) RecordOperation(c *gin.Context) {
	var req recordRequest
	if !h.bind(c, &req) {
		return
	}
	report, err := h.Service.Record(c.Request.Context(), req.operation(), auth.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReportResponse(report))
}

func (h *Handler) GetOperation(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	op, err := h.Service.GetOperation(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toItem(op))
}

func (h *Handler) ListOperations(c *gin.Context) {
	clientID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	filter := operation.Filter{Cursor: strings.TrimSpace(c.Query("cursor"))}
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeError(c, apperr.Invalid("limit", "must be an integer"))
			return
		}
		filter.Limit = n
	}
	if raw := strings.TrimSpace(c.Query("include_inactive")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(c, apperr.Invalid("include_inactive", "must be a boolean"))
			return
		}
		filter.IncludeInactive = include
	}
	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		kind, err := operation.ParseKind(raw)
		if err != nil {
			h.writeError(c, apperr.Invalid("kind", err.Error()))
			return
		}
		filter.Kind = kind
	}

	ops, next, err := h.Service.ListOperations(c.Request.Context(), clientID, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]operationItem, 0, len(ops))
	for _, op := range ops {
		items = append(items, toItem(op))
	}
	c.JSON(http.StatusOK, listOperationsResponse{Operations: items, NextCursor: next})
}

func (h *Handler) TransitionOperation(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if !h.bind(c, &req) {
		return
	}

	in := service.TransitionInput{
		OperationID: id,
		Actor:       auth.Actor(c),
		Notes:       strings.TrimSpace(req.Notes),
	}
	if req.Status != "" {
		in.Status, _ = operation.ParseStatus(req.Status)
	}
	amend := operation.Amendment{
		SourceAmount: optionalDecimal(req.SourceAmount),
		TargetAmount: optionalDecimal(req.TargetAmount),
		ExchangeRate: optionalDecimal(req.ExchangeRate),
		HomeAmount:   optionalDecimal(req.HomeAmount),
	}
	if !amend.Empty() {
		in.Amend = &amend
	}
	if in.Status == "" && in.Amend == nil {
		h.writeError(c, apperr.Invalid("status", "status or an amended amount is required"))
		return
	}

	report, err := h.Service.Transition(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReportResponse(report))
}

func (h *Handler) DeleteOperation(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	report, err := h.Service.Delete(c.Request.Context(), id, auth.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReportResponse(report))
}

func toReportResponse(r service.Report) reportResponse {
	resp := reportResponse{
		Wallets:          r.Wallets,
		AnnualLimit:      r.AnnualLimit,
		NegativeBalances: r.NegativeBalances,
		NoOp:             r.NoOp,
	}
	if resp.Wallets == nil {
		resp.Wallets = []service.WalletChange{}
	}
	if r.Operation.ID != uuid.Nil {
		item := toItem(r.Operation)
		resp.Operation = &item
	}
	return resp
}

func toItem(op operation.Operation) operationItem {
	item := operationItem{
		ID:              op.ID.String(),
		Type:            string(op.Kind),
		Side:            string(op.Side),
		ClientID:        op.ClientID.String(),
		SourceCurrency:  string(op.SourceCurrency),
		TargetCurrency:  string(op.TargetCurrency),
		SourceAmount:    op.SourceAmount.StringFixed(2),
		TargetAmount:    op.TargetAmount.StringFixed(2),
		ExchangeRate:    op.ExchangeRate.String(),
		HomeAmount:      op.HomeAmount.StringFixed(2),
		Status:          string(op.Status),
		ProviderOrderID: op.ProviderOrderID,
		Notes:           op.Notes,
		CreatedAt:       op.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       op.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !op.BaseRate.IsZero() {
		item.BaseRate = op.BaseRate.String()
	}
	if !op.MarkupPercentage.IsZero() {
		item.MarkupPercentage = op.MarkupPercentage.String()
	}
	if !op.FixedRateAmount.IsZero() {
		item.FixedRateAmount = op.FixedRateAmount.StringFixed(2)
	}
	if op.DestinationClientID != nil {
		dest := op.DestinationClientID.String()
		item.DestinationClientID = &dest
	}
	if op.ExecutedAt != nil {
		executed := op.ExecutedAt.UTC().Format(time.RFC3339)
		item.ExecutedAt = &executed
	}
	return item
}
