package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/trace"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/effects"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const tracerName = "ledger/service"

type TransitionInput struct {
	OperationID uuid.UUID
	// Status is the target status. Empty keeps the current one, which makes the call an
	// amendment.
	Status operation.Status
	Amend  *operation.Amendment
	Actor  string
	Notes  string
	// EventID deduplicates transitions driven by inbound events.
	EventID string
}

// Coordinator moves operations between statuses and keeps wallets and annual usage in step.
// Reversal always applies the mechanical inverse of the forward effect. Every change reads
// the operation under lock and derives its effect from that read, so concurrent requests on
// one operation apply in sequence and a second cancel finds the first one's result.
type Coordinator struct {
	units  *unitRunner
	logger *slog.Logger

	// rehome recomputes the home amount of an amended operation. Nil keeps the stored value
	// unless the amendment sets one.
	rehome func(ctx context.Context, op operation.Operation) (decimal.Decimal, error)

	// locks serializes changes per operation id within the process; the row lock taken by
	// LockOperation covers other processes sharing the database.
	locks wallet.KeyedMutex
}

// errUnchanged ends a unit whose target equals the stored state. Nothing has been written
// when it is returned.
var errUnchanged = errors.New("operation unchanged")

func NewCoordinator(st store.Store, tracker *usage.Tracker, publisher EventPublisher, logger *slog.Logger, metrics *Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Coordinator{
		units: &unitRunner{
			store:     st,
			tracker:   tracker,
			publisher: publisher,
			logger:    logger,
			metrics:   metrics,
			now:       time.Now,
		},
		logger: logger,
	}
}

// transition is what Transition derived from the operation as read under lock.
type transition struct {
	current  operation.Operation
	target   operation.Status
	amended  bool
	action   string
	rejected bool
}

func (c *Coordinator) Transition(ctx context.Context, in TransitionInput) (report Report, err error) {
	ctx, span := trace.Start(ctx, tracerName, "ledger.transition")
	defer func() { trace.End(span, err) }()

	unlock := c.locks.Lock(in.OperationID.String())
	defer unlock()

	var t transition
	report, err = c.units.execute(ctx, func(ctx context.Context, s store.Store) (plan, error) {
		current, err := s.LockOperation(ctx, in.OperationID)
		if err != nil {
			return plan{}, err
		}
		t = transition{current: current, target: in.Status, amended: in.Amend != nil && !in.Amend.Empty()}
		if t.target == "" {
			t.target = current.Status
		}
		return c.derive(ctx, in, &t)
	})
	current, target := t.current, t.target
	switch {
	case current.ID == uuid.Nil:
		return Report{}, err
	case errors.Is(err, errUnchanged):
		c.units.metrics.IncTransition(string(current.Status), string(target), "noop")
		return Report{Operation: current, NoOp: true}, nil
	case t.rejected:
		c.units.metrics.IncTransition(string(current.Status), string(target), "rejected")
		return Report{}, err
	case errors.Is(err, errAlreadyProcessed):
		c.units.metrics.IncTransition(string(current.Status), string(target), "duplicate")
		c.logger.Info("transition event already processed", "operation_id", current.ID, "event_id", in.EventID)
		return Report{Operation: current, NoOp: true}, nil
	case err != nil:
		c.units.metrics.IncTransition(string(current.Status), string(target), "error")
		c.logger.Error("operation transition failed",
			"operation_id", current.ID,
			"from", current.Status,
			"to", target,
			"error", err,
		)
		return Report{}, err
	}
	c.units.metrics.IncTransition(string(current.Status), string(target), "success")
	c.logger.Info("operation transitioned",
		"operation_id", current.ID,
		"from", current.Status,
		"to", target,
		"amended", t.amended,
		"actor", in.Actor,
	)
	c.units.publish(ctx, OperationEvent{
		Type:           t.action,
		Operation:      report.Operation,
		PreviousStatus: current.Status,
		Actor:          in.Actor,
	}, report.Wallets)
	return report, nil
}

// derive builds the unit for moving t.current to t.target with the optional amendment.
func (c *Coordinator) derive(ctx context.Context, in TransitionInput, t *transition) (plan, error) {
	current, target := t.current, t.target
	if target == current.Status && !t.amended {
		return plan{}, errUnchanged
	}
	if !operation.CanTransition(current.Status, target) {
		t.rejected = true
		return plan{}, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, current.Status, target)
	}

	next := current
	if t.amended {
		next = in.Amend.Apply(current)
		if _, verr := next.Variant(); verr != nil {
			return plan{}, apperr.Invalid("amendment", verr.Error())
		}
		if in.Amend.HomeAmount == nil && c.rehome != nil {
			home, herr := c.rehome(ctx, next)
			if herr != nil {
				return plan{}, herr
			}
			next.HomeAmount = operation.RoundMoney(home)
		}
	}
	next.Status = target
	if in.Notes != "" {
		next.Notes = in.Notes
	}
	if target == operation.StatusExecuted && current.Status != operation.StatusExecuted {
		executedAt := c.units.now().UTC()
		next.ExecutedAt = &executedAt
	}

	p := plan{operationID: current.ID, eventID: in.EventID, usageClient: current.ClientID}
	switch operation.ChangeFor(current.Status, target) {
	case operation.EffectRevert:
		forward, err := effects.For(current)
		if err != nil {
			return plan{}, err
		}
		p.deltas = effects.Inverse(forward)
		p.usageDelta = current.HomeAmount.Neg()
	case operation.EffectReapply:
		forward, err := effects.For(next)
		if err != nil {
			return plan{}, err
		}
		p.deltas = forward
		p.usageDelta = next.HomeAmount
	default:
		if t.amended && current.Status.Applied() {
			diff, err := effects.Diff(current, next)
			if err != nil {
				return plan{}, err
			}
			p.deltas = diff
			p.usageDelta = next.HomeAmount.Sub(current.HomeAmount)
			p.checkLimit = true
		}
	}

	t.action = EventOperationStatusChanged
	if target == current.Status {
		t.action = EventOperationAmended
	}
	p.persist = func(ctx context.Context, s store.Store) (operation.Operation, error) {
		return s.UpdateOperation(ctx, next)
	}
	p.audit = &store.AuditEntry{
		Actor:      in.Actor,
		Action:     t.action,
		EntityType: "operation",
		EntityID:   current.ID,
		Metadata: map[string]string{
			"from":    string(current.Status),
			"to":      string(target),
			"amended": fmt.Sprint(t.amended),
		},
	}
	return p, nil
}

// Delete reverts an applied operation and removes its row.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID, actor string) (report Report, err error) {
	ctx, span := trace.Start(ctx, tracerName, "ledger.delete")
	defer func() { trace.End(span, err) }()

	unlock := c.locks.Lock(id.String())
	defer unlock()

	var current operation.Operation
	report, err = c.units.execute(ctx, func(ctx context.Context, s store.Store) (plan, error) {
		op, err := s.LockOperation(ctx, id)
		if err != nil {
			return plan{}, err
		}
		current = op
		p := plan{operationID: op.ID, usageClient: op.ClientID}
		if op.Status.Applied() {
			forward, err := effects.For(op)
			if err != nil {
				return plan{}, err
			}
			p.deltas = effects.Inverse(forward)
			p.usageDelta = op.HomeAmount.Neg()
		}
		p.persist = func(ctx context.Context, s store.Store) (operation.Operation, error) {
			return op, s.DeleteOperation(ctx, op.ID)
		}
		p.audit = &store.AuditEntry{
			Actor:      actor,
			Action:     EventOperationDeleted,
			EntityType: "operation",
			EntityID:   op.ID,
			Metadata: map[string]string{
				"status":   string(op.Status),
				"reverted": fmt.Sprint(op.Status.Applied()),
			},
		}
		return p, nil
	})
	if err != nil {
		if current.ID != uuid.Nil {
			c.logger.Error("operation delete failed", "operation_id", current.ID, "error", err)
		}
		return Report{}, err
	}
	c.logger.Info("operation deleted", "operation_id", current.ID, "status", current.Status, "actor", actor)
	c.units.publish(ctx, OperationEvent{
		Type:           EventOperationDeleted,
		Operation:      current,
		PreviousStatus: current.Status,
		Actor:          actor,
	}, report.Wallets)
	return report, nil
}
