// Package wallet defines the per-(client, currency) balance store contract.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	Add      Direction = "add"
	Subtract Direction = "subtract"
	Set      Direction = "set"
)

type Balance struct {
	ClientID  uuid.UUID
	Currency  operation.Currency
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// Store mutates wallets. ApplyDelta must be linearizable per (client, currency) and
// upserts missing wallets. GetBalance returns zero for a missing wallet.
type Store interface {
	GetBalance(ctx context.Context, clientID uuid.UUID, currency operation.Currency) (decimal.Decimal, error)
	ApplyDelta(ctx context.Context, clientID uuid.UUID, currency operation.Currency, amount decimal.Decimal, dir Direction) (decimal.Decimal, error)
	ListBalances(ctx context.Context, clientID uuid.UUID) ([]Balance, error)
}

// Split converts a signed amount into a direction and a non-negative magnitude.
func Split(signed decimal.Decimal) (Direction, decimal.Decimal) {
	if signed.IsNegative() {
		return Subtract, signed.Neg()
	}
	return Add, signed
}

// Next computes the balance after applying amount in dir to current.
func Next(current, amount decimal.Decimal, dir Direction) (decimal.Decimal, error) {
	switch dir {
	case Add:
		return current.Add(amount), nil
	case Subtract:
		return current.Sub(amount), nil
	case Set:
		return amount, nil
	}
	return decimal.Zero, fmt.Errorf("unknown direction %q", dir)
}
