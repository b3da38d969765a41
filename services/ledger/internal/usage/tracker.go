// Package usage tracks each client's annual transaction volume against its ceiling.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Usage struct {
	ClientID  uuid.UUID
	Limit     decimal.Decimal
	Current   decimal.Decimal
	ResetDate time.Time
}

// Store persists usage on the client record. AddUsage must be atomic and never leave the
// counter below zero. ResetIfBefore zeroes usage and sets resetDate only when the stored
// reset date falls in a year before year.
type Store interface {
	GetUsage(ctx context.Context, clientID uuid.UUID) (Usage, error)
	AddUsage(ctx context.Context, clientID uuid.UUID, delta decimal.Decimal) (Usage, error)
	ResetIfBefore(ctx context.Context, clientID uuid.UUID, year int, resetDate time.Time) (Usage, bool, error)
	ResetAllBefore(ctx context.Context, year int, resetDate time.Time) (int64, error)
}

type Metrics interface {
	IncLimitRejection()
	AddUsageResets(n int)
}

type Decision struct {
	Allowed   bool
	Unlimited bool
	Limit     decimal.Decimal
	Usage     decimal.Decimal
	Available decimal.Decimal
}

// Change describes one ApplyUsage call for reporting.
type Change struct {
	ClientID uuid.UUID
	Before   decimal.Decimal
	After    decimal.Decimal
	Delta    decimal.Decimal
	Limit    decimal.Decimal
	// Clamped is set when a decrement would have taken usage below zero.
	Clamped bool
}

type Tracker struct {
	store   Store
	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func NewTracker(store Store, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithStore returns a tracker bound to store, e.g. a transaction-scoped one.
func (t *Tracker) WithStore(store Store) *Tracker {
	clone := *t
	clone.store = store
	return &clone
}

// current loads usage, rolling it over first when the reset date is in a past year.
func (t *Tracker) current(ctx context.Context, clientID uuid.UUID) (Usage, error) {
	u, err := t.store.GetUsage(ctx, clientID)
	if err != nil {
		return Usage{}, err
	}
	now := t.now().UTC()
	if now.Year() <= u.ResetDate.Year() {
		return u, nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	reset, changed, err := t.store.ResetIfBefore(ctx, clientID, now.Year(), today)
	if err != nil {
		return Usage{}, fmt.Errorf("reset annual usage: %w", err)
	}
	if changed {
		t.logger.Info("annual usage reset", "client_id", clientID, "previous_usage", u.Current.String(), "reset_date", today.Format(time.DateOnly))
		if t.metrics != nil {
			t.metrics.AddUsageResets(1)
		}
	}
	return reset, nil
}

// CheckLimit reports whether requested (home currency) fits under the client's ceiling.
// A limit of zero means unlimited.
func (t *Tracker) CheckLimit(ctx context.Context, clientID uuid.UUID, requested decimal.Decimal) (Decision, error) {
	u, err := t.current(ctx, clientID)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Limit: u.Limit, Usage: u.Current}
	if u.Limit.IsZero() {
		d.Allowed = true
		d.Unlimited = true
		return d, nil
	}
	d.Available = decimal.Max(u.Limit.Sub(u.Current), decimal.Zero)
	d.Allowed = u.Current.Add(requested).LessThanOrEqual(u.Limit)
	return d, nil
}

// Require is CheckLimit returning *apperr.LimitExceededError when the request does not fit.
func (t *Tracker) Require(ctx context.Context, clientID uuid.UUID, requested decimal.Decimal) (Decision, error) {
	d, err := t.CheckLimit(ctx, clientID, requested)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		if t.metrics != nil {
			t.metrics.IncLimitRejection()
		}
		return d, &apperr.LimitExceededError{
			Limit:     d.Limit,
			Usage:     d.Usage,
			Requested: requested,
			Available: d.Available,
		}
	}
	return d, nil
}

// ApplyUsage adds delta (negative on reversal) to the client's running total.
func (t *Tracker) ApplyUsage(ctx context.Context, clientID uuid.UUID, delta decimal.Decimal) (Change, error) {
	before, err := t.current(ctx, clientID)
	if err != nil {
		return Change{}, err
	}
	if delta.IsZero() {
		return Change{ClientID: clientID, Before: before.Current, After: before.Current, Limit: before.Limit}, nil
	}
	after, err := t.store.AddUsage(ctx, clientID, delta)
	if err != nil {
		return Change{}, fmt.Errorf("apply annual usage: %w", err)
	}
	c := Change{
		ClientID: clientID,
		Before:   before.Current,
		After:    after.Current,
		Delta:    delta,
		Limit:    after.Limit,
		Clamped:  before.Current.Add(delta).IsNegative(),
	}
	if c.Clamped {
		t.logger.Warn("annual usage clamped at zero", "client_id", clientID, "usage", before.Current.String(), "delta", delta.String())
	}
	return c, nil
}

// Rollover resets every client whose reset date lies in a previous year.
func (t *Tracker) Rollover(ctx context.Context) (int64, error) {
	now := t.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n, err := t.store.ResetAllBefore(ctx, now.Year(), today)
	if err != nil {
		return 0, fmt.Errorf("rollover annual usage: %w", err)
	}
	if n > 0 {
		t.logger.Info("annual usage rolled over", "clients", n, "year", now.Year())
		if t.metrics != nil {
			t.metrics.AddUsageResets(int(n))
		}
	}
	return n, nil
}

// RolloverJob adapts Rollover to the scheduler.
type RolloverJob struct {
	Tracker *Tracker
}

func (RolloverJob) Name() string { return "annual_usage_rollover" }

func (j RolloverJob) Run(ctx context.Context) error {
	_, err := j.Tracker.Rollover(ctx)
	return err
}
