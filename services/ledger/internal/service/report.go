package service

import (
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/effects"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletChange is one wallet write. Amount is the magnitude; Operation gives the direction.
type WalletChange struct {
	ClientID  uuid.UUID          `json:"client_id"`
	Currency  operation.Currency `json:"currency"`
	Amount    decimal.Decimal    `json:"amount"`
	Operation wallet.Direction   `json:"operation"`
	Balance   decimal.Decimal    `json:"balance"`
}

type UsageChange struct {
	ClientID uuid.UUID       `json:"client_id"`
	Before   decimal.Decimal `json:"before"`
	After    decimal.Decimal `json:"after"`
	Delta    decimal.Decimal `json:"delta"`
	Limit    decimal.Decimal `json:"limit"`
	Clamped  bool            `json:"clamped,omitempty"`
}

// Report describes what one unit of work did to balances and usage.
type Report struct {
	Operation        operation.Operation `json:"-"`
	Wallets          []WalletChange      `json:"wallets"`
	AnnualLimit      *UsageChange        `json:"annual_limit,omitempty"`
	NegativeBalances []WalletChange      `json:"negative_balances,omitempty"`
	NoOp             bool                `json:"no_op,omitempty"`
}

func walletChange(d effects.Delta, balance decimal.Decimal) WalletChange {
	dir, amount := wallet.Split(d.Amount)
	return WalletChange{
		ClientID:  d.ClientID,
		Currency:  d.Currency,
		Amount:    amount,
		Operation: dir,
		Balance:   balance,
	}
}

func usageChange(c usage.Change) *UsageChange {
	return &UsageChange{
		ClientID: c.ClientID,
		Before:   c.Before,
		After:    c.After,
		Delta:    c.Delta,
		Limit:    c.Limit,
		Clamped:  c.Clamped,
	}
}
