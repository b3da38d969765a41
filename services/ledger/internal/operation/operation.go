package operation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Operation struct {
	ID                  uuid.UUID
	Kind                Kind
	Side                Side
	ClientID            uuid.UUID
	DestinationClientID *uuid.UUID
	SourceCurrency      Currency
	TargetCurrency      Currency
	SourceAmount        decimal.Decimal
	TargetAmount        decimal.Decimal
	ExchangeRate        decimal.Decimal
	BaseRate            decimal.Decimal
	MarkupPercentage    decimal.Decimal
	FixedRateAmount     decimal.Decimal
	// HomeAmount is the home-currency equivalent counted against the annual limit.
	HomeAmount      decimal.Decimal
	Status          Status
	ProviderOrderID string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExecutedAt      *time.Time
}

// DefaultStatus is the status op is created in. External transfers
// wait for approval; everything else, internal transfers and FX trades included, executes
// immediately.
func DefaultStatus(op Operation) Status {
	switch op.Kind {
	case KindTransfer:
		if op.DestinationClientID == nil {
			return StatusPending
		}
	case KindExternalWithdrawal:
		return StatusPending
	}
	return StatusExecuted
}

// Amendment carries replacement amounts for an operation whose status does not change.
type Amendment struct {
	SourceAmount *decimal.Decimal
	TargetAmount *decimal.Decimal
	ExchangeRate *decimal.Decimal
	HomeAmount   *decimal.Decimal
}

func (a Amendment) Empty() bool {
	return a.SourceAmount == nil && a.TargetAmount == nil && a.ExchangeRate == nil && a.HomeAmount == nil
}

// Apply returns a copy of op with the amended fields replaced.
func (a Amendment) Apply(op Operation) Operation {
	out := op
	if a.SourceAmount != nil {
		out.SourceAmount = RoundMoney(*a.SourceAmount)
	}
	if a.TargetAmount != nil {
		out.TargetAmount = RoundMoney(*a.TargetAmount)
	}
	if a.ExchangeRate != nil {
		out.ExchangeRate = *a.ExchangeRate
	}
	if a.HomeAmount != nil {
		out.HomeAmount = RoundMoney(*a.HomeAmount)
	}
	return out
}

type Filter struct {
	Kind            Kind
	IncludeInactive bool
	Cursor          string
	Limit           int
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 100 {
		return 100
	}
	return limit
}
