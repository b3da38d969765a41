// Package effects derives the wallet movements an operation causes.
package effects

import (
	"fmt"
	"sort"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Delta is a signed movement on one wallet. Positive credits, negative debits.
type Delta struct {
	ClientID uuid.UUID
	Currency operation.Currency
	Amount   decimal.Decimal
}

func (d Delta) IsDebit() bool { return d.Amount.IsNegative() }

func (d Delta) Key() string {
	return d.ClientID.String() + ":" + string(d.Currency)
}

func credit(l operation.Leg) Delta {
	return Delta{ClientID: l.ClientID, Currency: l.Currency, Amount: l.Amount}
}

func debit(l operation.Leg) Delta {
	return Delta{ClientID: l.ClientID, Currency: l.Currency, Amount: l.Amount.Neg()}
}

// For returns the forward effect of op.
func For(op operation.Operation) ([]Delta, error) {
	v, err := op.Variant()
	if err != nil {
		return nil, fmt.Errorf("operation %s: %w", op.ID, err)
	}
	return ForVariant(v)
}

// ForVariant is the dispatch table over every operation shape.
func ForVariant(v operation.Variant) ([]Delta, error) {
	switch v := v.(type) {
	case operation.FXTrade:
		if v.Side == operation.SideBuy {
			return []Delta{credit(v.Source), debit(v.Target)}, nil
		}
		return []Delta{debit(v.Source), credit(v.Target)}, nil
	case operation.Arbitrage:
		return []Delta{credit(v.Source), debit(v.Target)}, nil
	case operation.Transfer:
		out := []Delta{debit(v.Outgoing)}
		if v.Incoming != nil {
			out = append(out, credit(*v.Incoming))
		}
		return out, nil
	case operation.ExternalDeposit:
		return []Delta{credit(v.Target)}, nil
	case operation.ExternalWithdrawal:
		return []Delta{debit(v.Source)}, nil
	case operation.Deposit:
		return []Delta{credit(v.Source)}, nil
	case operation.Withdrawal:
		return []Delta{debit(v.Source)}, nil
	case operation.Conversion:
		return []Delta{debit(v.Source), credit(v.Target)}, nil
	case operation.InternalTransfer:
		return []Delta{debit(v.Source), credit(v.Target)}, nil
	}
	return nil, fmt.Errorf("no effect rule for %T", v)
}

// Inverse negates every delta. Reversal always goes through here.
func Inverse(deltas []Delta) []Delta {
	out := make([]Delta, len(deltas))
	for i, d := range deltas {
		out[i] = Delta{ClientID: d.ClientID, Currency: d.Currency, Amount: d.Amount.Neg()}
	}
	return out
}

// Merge sums deltas per wallet and drops zero results, keeping first-seen order.
func Merge(deltas []Delta) []Delta {
	index := make(map[string]int, len(deltas))
	out := make([]Delta, 0, len(deltas))
	for _, d := range deltas {
		if i, ok := index[d.Key()]; ok {
			out[i].Amount = out[i].Amount.Add(d.Amount)
			continue
		}
		index[d.Key()] = len(out)
		out = append(out, d)
	}
	filtered := out[:0]
	for _, d := range out {
		if !d.Amount.IsZero() {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// Diff returns the per-wallet movement that takes balances from the effect of before to
// the effect of after.
func Diff(before, after operation.Operation) ([]Delta, error) {
	old, err := For(before)
	if err != nil {
		return nil, err
	}
	next, err := For(after)
	if err != nil {
		return nil, err
	}
	return Merge(append(Inverse(old), next...)), nil
}

// Ordered returns deltas with debits first, preserving relative order otherwise.
func Ordered(deltas []Delta) []Delta {
	out := make([]Delta, len(deltas))
	copy(out, deltas)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsDebit() && !out[j].IsDebit()
	})
	return out
}
