// Package operation holds the ledger's operation record, its closed set of kinds and
// the status state machine.
package operation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	BRL  Currency = "BRL"
	USD  Currency = "USD"
	EUR  Currency = "EUR"
	GBP  Currency = "GBP"
	USDT Currency = "USDT"
	USDC Currency = "USDC"
)

// Currencies lists every currency a client holds a wallet in.
var Currencies = []Currency{BRL, USD, EUR, GBP, USDT, USDC}

func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	for _, known := range Currencies {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported currency %q", value)
}

func (c Currency) Valid() bool {
	_, err := ParseCurrency(string(c))
	return err == nil
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(value string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(value))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("side must be buy or sell")
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(value))); s {
	case StatusPending, StatusExecuted, StatusCancelled, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// Reverted reports whether balance effects of an operation in this status are undone.
func (s Status) Reverted() bool {
	return s == StatusCancelled || s == StatusFailed
}

// Applied reports whether balance effects of an operation in this status are in force.
func (s Status) Applied() bool {
	return s == StatusPending || s == StatusExecuted
}

type Kind string

const (
	KindFXTrade            Kind = "fx_trade"
	KindTransfer           Kind = "transfer"
	KindArbitrage          Kind = "arbitrage"
	KindExternalDeposit    Kind = "external_deposit"
	KindExternalWithdrawal Kind = "external_withdrawal"
	KindWithdrawal         Kind = "withdrawal"
	KindDeposit            Kind = "deposit"
	KindConversion         Kind = "conversion"
	KindInternalTransfer   Kind = "internal_transfer"
)

var Kinds = []Kind{
	KindFXTrade,
	KindTransfer,
	KindArbitrage,
	KindExternalDeposit,
	KindExternalWithdrawal,
	KindWithdrawal,
	KindDeposit,
	KindConversion,
	KindInternalTransfer,
}

func ParseKind(value string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation type %q", value)
}

// RoundMoney rounds an amount to the two decimal places persisted for balances.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
