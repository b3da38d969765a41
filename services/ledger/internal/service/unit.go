package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/effects"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// plan is everything one operation change does to the ledger: wallet legs, the usage delta
// and the row write. It is executed by unitRunner either inside a store transaction or with
// compensation.
type plan struct {
	operationID uuid.UUID
	// eventID, when set, is recorded as processed in the same unit. A replay fails with
	// errAlreadyProcessed before anything is written.
	eventID     string
	deltas      []effects.Delta
	usageClient uuid.UUID
	usageDelta  decimal.Decimal
	// checkLimit rejects a positive usageDelta that does not fit the annual ceiling.
	checkLimit bool
	// requireFunds rejects debits larger than the wallet's balance.
	requireFunds bool
	persist      func(ctx context.Context, s store.Store) (operation.Operation, error)
	audit        *store.AuditEntry
}

var errAlreadyProcessed = errors.New("event already processed")

// progress records what a failed attempt managed to write before the error.
type progress struct {
	legs  []effects.Delta
	usage *usage.Change
}

type unitRunner struct {
	store     store.Store
	tracker   *usage.Tracker
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	// clients serializes usage-moving units per client when there is no transaction to hold
	// the client row.
	clients wallet.KeyedMutex
}

// loader derives the plan from state read through s, which is transaction-bound when the
// store supports it.
type loader func(ctx context.Context, s store.Store) (plan, error)

func (u *unitRunner) run(ctx context.Context, p plan) (Report, error) {
	return u.execute(ctx, func(context.Context, store.Store) (plan, error) { return p, nil })
}

func (u *unitRunner) execute(ctx context.Context, load loader) (Report, error) {
	started := time.Now()
	if tx, ok := u.store.(store.Transactor); ok {
		var report Report
		err := tx.WithinTx(ctx, func(ctx context.Context, s store.Store) error {
			p, err := load(ctx, s)
			if err != nil {
				return err
			}
			r, _, err := u.apply(ctx, s, u.tracker.WithStore(s), p)
			if err != nil {
				return err
			}
			report = r
			return nil
		})
		u.metrics.ObserveEffect("transaction", time.Since(started))
		if err != nil {
			return Report{}, err
		}
		u.flagNegative(report)
		return report, nil
	}

	p, err := load(ctx, u.store)
	if err != nil {
		return Report{}, err
	}
	if !p.usageDelta.IsZero() {
		unlock := u.clients.Lock(p.usageClient.String())
		defer unlock()
	}
	report, done, err := u.apply(ctx, u.store, u.tracker, p)
	u.metrics.ObserveEffect("compensating", time.Since(started))
	if err != nil {
		return Report{}, u.compensate(ctx, p.operationID, done, err)
	}
	u.flagNegative(report)
	return report, nil
}

func (u *unitRunner) apply(ctx context.Context, s store.Store, tracker *usage.Tracker, p plan) (Report, progress, error) {
	var (
		report Report
		done   progress
	)

	if p.eventID != "" {
		first, err := s.MarkEventProcessed(ctx, p.eventID)
		if err != nil {
			return report, done, err
		}
		if !first {
			return report, done, errAlreadyProcessed
		}
	}

	// The client row is locked before any wallet so every unit takes its locks in the same
	// order: operation, client, wallets.
	if !p.usageDelta.IsZero() {
		if _, err := s.LockClient(ctx, p.usageClient); err != nil {
			return report, done, fmt.Errorf("lock client: %w", err)
		}
	}

	if p.checkLimit && p.usageDelta.IsPositive() {
		if _, err := tracker.Require(ctx, p.usageClient, p.usageDelta); err != nil {
			return report, done, err
		}
	}

	ordered := effects.Ordered(p.deltas)
	if p.requireFunds {
		if err := checkFunds(ctx, s, ordered); err != nil {
			return report, done, err
		}
	}

	for _, d := range ordered {
		dir, amount := wallet.Split(d.Amount)
		balance, err := s.ApplyDelta(ctx, d.ClientID, d.Currency, amount, dir)
		if err != nil {
			return report, done, fmt.Errorf("apply %s %s on %s/%s: %w", dir, amount, d.ClientID, d.Currency, err)
		}
		done.legs = append(done.legs, d)
		change := walletChange(d, balance)
		report.Wallets = append(report.Wallets, change)
		if balance.IsNegative() {
			report.NegativeBalances = append(report.NegativeBalances, change)
		}
	}

	if !p.usageDelta.IsZero() {
		change, err := tracker.ApplyUsage(ctx, p.usageClient, p.usageDelta)
		if err != nil {
			return report, done, err
		}
		done.usage = &change
		report.AnnualLimit = usageChange(change)
	}

	if p.persist != nil {
		op, err := p.persist(ctx, s)
		if err != nil {
			return report, done, err
		}
		report.Operation = op
	}

	if p.audit != nil {
		if err := s.InsertAudit(ctx, *p.audit); err != nil {
			return report, done, fmt.Errorf("insert audit: %w", err)
		}
	}
	return report, done, nil
}

// checkFunds sums debits per wallet so two legs on one wallet are checked together.
func checkFunds(ctx context.Context, s store.Store, deltas []effects.Delta) error {
	for _, d := range effects.Merge(deltas) {
		if !d.IsDebit() {
			continue
		}
		balance, err := s.GetBalance(ctx, d.ClientID, d.Currency)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		requested := d.Amount.Neg()
		if balance.LessThan(requested) {
			return &apperr.InsufficientBalanceError{
				Wallet:    string(d.Currency),
				Balance:   balance,
				Requested: requested,
			}
		}
	}
	return nil
}

// compensate undoes the legs and usage written before cause, newest first. Nothing written
// means a clean failure and cause is returned unchanged.
func (u *unitRunner) compensate(ctx context.Context, operationID uuid.UUID, done progress, cause error) error {
	if len(done.legs) == 0 && done.usage == nil {
		return cause
	}
	u.metrics.IncPartialFailure()

	failure := &apperr.PartialFailureError{
		OperationID: operationID.String(),
		Cause:       cause,
		Applied:     len(done.legs),
	}
	var errs []error
	if done.usage != nil {
		// After-Before is what was actually written once clamping is taken into account.
		if written := done.usage.After.Sub(done.usage.Before); !written.IsZero() {
			if _, err := u.tracker.ApplyUsage(ctx, done.usage.ClientID, written.Neg()); err != nil {
				errs = append(errs, fmt.Errorf("usage: %w", err))
			}
		}
	}
	for i := len(done.legs) - 1; i >= 0; i-- {
		inverse := effects.Inverse(done.legs[i : i+1])[0]
		dir, amount := wallet.Split(inverse.Amount)
		if _, err := u.store.ApplyDelta(ctx, inverse.ClientID, inverse.Currency, amount, dir); err != nil {
			u.metrics.IncCompensation("error")
			errs = append(errs, fmt.Errorf("%s/%s: %w", inverse.ClientID, inverse.Currency, err))
			continue
		}
		u.metrics.IncCompensation("success")
		failure.Compensated++
	}
	failure.CompensationErr = errors.Join(errs...)

	if failure.NeedsReconciliation() {
		u.logger.Error("partial failure needs reconciliation",
			"operation_id", operationID,
			"applied", failure.Applied,
			"compensated", failure.Compensated,
			"error", cause,
			"compensation_error", failure.CompensationErr,
		)
	} else {
		u.logger.Warn("partial failure compensated",
			"operation_id", operationID,
			"applied", failure.Applied,
			"error", cause,
		)
	}
	return failure
}

func (u *unitRunner) flagNegative(r Report) {
	for _, w := range r.NegativeBalances {
		u.metrics.IncNegativeBalance(string(w.Currency))
		u.logger.Warn("wallet balance below zero",
			"client_id", w.ClientID,
			"currency", w.Currency,
			"balance", w.Balance.String(),
			"operation_id", r.Operation.ID,
		)
	}
}

// publish emits the operation event and, when wallets moved, the balance event.
func (u *unitRunner) publish(ctx context.Context, event OperationEvent, wallets []WalletChange) {
	event.OccurredAt = u.now().UTC()
	if err := u.publisher.PublishOperation(ctx, event); err != nil {
		u.logger.Error("publish operation event failed", "operation_id", event.Operation.ID, "event_type", event.Type, "error", err)
	}
	if len(wallets) == 0 {
		return
	}
	balances := BalanceEvent{Operation: event.Operation, Wallets: wallets, OccurredAt: event.OccurredAt}
	if err := u.publisher.PublishBalances(ctx, balances); err != nil {
		u.logger.Error("publish balance event failed", "operation_id", event.Operation.ID, "error", err)
	}
}
