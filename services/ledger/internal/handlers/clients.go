package handlers

import (
	"net/http"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/auth"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/gin-gonic/gin"
)

type clientRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	AnnualLimit string `json:"annual_limit" binding:"omitempty,decimal"`
}

type limitRequest struct {
	AnnualLimit string `json:"annual_limit" binding:"required,decimal"`
}

type clientItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AnnualLimit  string `json:"annual_limit"`
	CurrentUsage string `json:"current_usage"`
	ResetDate    string `json:"reset_date"`
	CreatedAt    string `json:"created_at"`
}

type walletItem struct {
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type usageResponse struct {
	ClientID  string `json:"client_id"`
	Unlimited bool   `json:"unlimited"`
	Limit     string `json:"limit"`
	Usage     string `json:"usage"`
	Available string `json:"available,omitempty"`
}

func (h *Handler) ProvisionClient(c *gin.Context) {
	var req clientRequest
	if !h.bind(c, &req) {
		return
	}
	client, err := h.Service.ProvisionClient(c.Request.Context(), service.ClientInput{
		Name:        req.Name,
		AnnualLimit: optionalDecimal(req.AnnualLimit),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toClientItem(client))
}

func (h *Handler) ListWallets(c *gin.Context) {
	clientID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	balances, err := h.Service.Balances(c.Request.Context(), clientID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]walletItem, 0, len(balances))
	for _, b := range balances {
		item := walletItem{Currency: string(b.Currency), Balance: b.Amount.StringFixed(2)}
		if !b.UpdatedAt.IsZero() {
			item.UpdatedAt = b.UpdatedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"client_id": clientID.String(), "wallets": items})
}

func (h *Handler) GetUsage(c *gin.Context) {
	clientID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	decision, err := h.Service.Usage(c.Request.Context(), clientID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := usageResponse{
		ClientID:  clientID.String(),
		Unlimited: decision.Unlimited,
		Limit:     decision.Limit.StringFixed(2),
		Usage:     decision.Usage.StringFixed(2),
	}
	if !decision.Unlimited {
		resp.Available = decision.Available.StringFixed(2)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateLimit(c *gin.Context) {
	clientID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req limitRequest
	if !h.bind(c, &req) {
		return
	}
	client, err := h.Service.UpdateLimit(c.Request.Context(), clientID, mustDecimal(req.AnnualLimit), auth.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toClientItem(client))
}

func toClientItem(client store.Client) clientItem {
	return clientItem{
		ID:           client.ID.String(),
		Name:         client.Name,
		AnnualLimit:  client.AnnualLimit.StringFixed(2),
		CurrentUsage: client.CurrentUsage.StringFixed(2),
		ResetDate:    client.ResetDate.UTC().Format("2006-01-02"),
		CreatedAt:    client.CreatedAt.UTC().Format(time.RFC3339),
	}
}
