package operation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Leg is one wallet touched by an operation.
type Leg struct {
	ClientID uuid.UUID
	Currency Currency
	Amount   decimal.Decimal
}

// Variant is the closed set of operation shapes. Each carries only the legs its kind uses.
type Variant interface {
	Kind() Kind
	sealed()
}

type FXTrade struct {
	Side   Side
	Source Leg
	Target Leg
}

type Arbitrage struct {
	Source Leg
	Target Leg
}

// Transfer debits the sender. Incoming is set for internal transfers and credits the
// destination client.
type Transfer struct {
	Outgoing Leg
	Incoming *Leg
}

type ExternalDeposit struct {
	Target Leg
}

type ExternalWithdrawal struct {
	Source Leg
}

type Deposit struct {
	Source Leg
}

type Withdrawal struct {
	Source Leg
}

type Conversion struct {
	Source Leg
	Target Leg
}

type InternalTransfer struct {
	Source Leg
	Target Leg
}

func (FXTrade) Kind() Kind            { return KindFXTrade }
func (Arbitrage) Kind() Kind          { return KindArbitrage }
func (Transfer) Kind() Kind           { return KindTransfer }
func (ExternalDeposit) Kind() Kind    { return KindExternalDeposit }
func (ExternalWithdrawal) Kind() Kind { return KindExternalWithdrawal }
func (Deposit) Kind() Kind            { return KindDeposit }
func (Withdrawal) Kind() Kind         { return KindWithdrawal }
func (Conversion) Kind() Kind         { return KindConversion }
func (InternalTransfer) Kind() Kind   { return KindInternalTransfer }

func (FXTrade) sealed()            {}
func (Arbitrage) sealed()          {}
func (Transfer) sealed()           {}
func (ExternalDeposit) sealed()    {}
func (ExternalWithdrawal) sealed() {}
func (Deposit) sealed()            {}
func (Withdrawal) sealed()         {}
func (Conversion) sealed()         {}
func (InternalTransfer) sealed()   {}

// Variant converts the stored row into its typed shape, validating the fields that kind needs.
func (op Operation) Variant() (Variant, error) {
	if op.ClientID == uuid.Nil {
		return nil, fmt.Errorf("client_id is required")
	}
	source := func() (Leg, error) {
		return leg(op.ClientID, op.SourceCurrency, op.SourceAmount, "source")
	}
	target := func() (Leg, error) {
		return leg(op.ClientID, op.TargetCurrency, op.TargetAmount, "target")
	}
	pair := func() (Leg, Leg, error) {
		s, err := source()
		if err != nil {
			return Leg{}, Leg{}, err
		}
		t, err := target()
		if err != nil {
			return Leg{}, Leg{}, err
		}
		return s, t, nil
	}

	switch op.Kind {
	case KindFXTrade:
		if op.Side != SideBuy && op.Side != SideSell {
			return nil, fmt.Errorf("side must be buy or sell")
		}
		s, t, err := pair()
		if err != nil {
			return nil, err
		}
		return FXTrade{Side: op.Side, Source: s, Target: t}, nil
	case KindArbitrage:
		s, t, err := pair()
		if err != nil {
			return nil, err
		}
		return Arbitrage{Source: s, Target: t}, nil
	case KindTransfer:
		s, err := source()
		if err != nil {
			return nil, err
		}
		v := Transfer{Outgoing: s}
		if op.DestinationClientID != nil {
			in, err := leg(*op.DestinationClientID, op.TargetCurrency, op.TargetAmount, "target")
			if err != nil {
				return nil, err
			}
			if in.ClientID == uuid.Nil {
				return nil, fmt.Errorf("destination_client_id is required")
			}
			v.Incoming = &in
		}
		return v, nil
	case KindExternalDeposit:
		t, err := target()
		if err != nil {
			return nil, err
		}
		return ExternalDeposit{Target: t}, nil
	case KindExternalWithdrawal:
		s, err := source()
		if err != nil {
			return nil, err
		}
		return ExternalWithdrawal{Source: s}, nil
	case KindDeposit:
		s, err := source()
		if err != nil {
			return nil, err
		}
		return Deposit{Source: s}, nil
	case KindWithdrawal:
		s, err := source()
		if err != nil {
			return nil, err
		}
		return Withdrawal{Source: s}, nil
	case KindConversion:
		s, t, err := pair()
		if err != nil {
			return nil, err
		}
		return Conversion{Source: s, Target: t}, nil
	case KindInternalTransfer:
		s, t, err := pair()
		if err != nil {
			return nil, err
		}
		return InternalTransfer{Source: s, Target: t}, nil
	}
	return nil, fmt.Errorf("unknown operation type %q", op.Kind)
}

func leg(clientID uuid.UUID, currency Currency, amount decimal.Decimal, prefix string) (Leg, error) {
	if !currency.Valid() {
		return Leg{}, fmt.Errorf("%s_currency %q is not supported", prefix, currency)
	}
	if !amount.IsPositive() {
		return Leg{}, fmt.Errorf("%s_amount must be positive", prefix)
	}
	return Leg{ClientID: clientID, Currency: currency, Amount: amount}, nil
}
