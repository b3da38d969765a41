// Package memstore is an in-process implementation of the ledger store, used by tests and
// by the service when storage.driver is "memory". It does not support transactions, so
// multi-leg effects against it go through the compensation path.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FaultFunc is consulted before every wallet write; a non-nil error aborts the write.
type FaultFunc func(clientID uuid.UUID, currency operation.Currency, amount decimal.Decimal, dir wallet.Direction) error

type Store struct {
	locks wallet.KeyedMutex

	walletMu sync.RWMutex
	wallets  map[string]*wallet.Balance

	mu         sync.RWMutex
	clients    map[uuid.UUID]store.Client
	operations map[uuid.UUID]operation.Operation
	events     map[string]struct{}
	audit      []store.AuditEntry
	system     map[rates.Pair]rates.SystemRate
	markups    map[string]rates.ClientMarkup

	faultMu sync.RWMutex
	fault   FaultFunc

	now func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		wallets:    make(map[string]*wallet.Balance),
		clients:    make(map[uuid.UUID]store.Client),
		operations: make(map[uuid.UUID]operation.Operation),
		events:     make(map[string]struct{}),
		system:     make(map[rates.Pair]rates.SystemRate),
		markups:    make(map[string]rates.ClientMarkup),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectFault installs fn as the wallet write hook; nil removes it.
func (s *Store) InjectFault(fn FaultFunc) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.fault = fn
}

func walletKey(clientID uuid.UUID, currency operation.Currency) string {
	return clientID.String() + ":" + string(currency)
}

func (s *Store) GetBalance(_ context.Context, clientID uuid.UUID, currency operation.Currency) (decimal.Decimal, error) {
	s.walletMu.RLock()
	defer s.walletMu.RUnlock()
	if b, ok := s.wallets[walletKey(clientID, currency)]; ok {
		return b.Amount, nil
	}
	return decimal.Zero, nil
}

func (s *Store) ApplyDelta(_ context.Context, clientID uuid.UUID, currency operation.Currency, amount decimal.Decimal, dir wallet.Direction) (decimal.Decimal, error) {
	if !currency.Valid() {
		return decimal.Zero, apperr.Invalid("currency", fmt.Sprintf("unsupported currency %q", currency))
	}
	if !s.clientExists(clientID) {
		return decimal.Zero, apperr.NotFound("client", clientID.String())
	}
	s.faultMu.RLock()
	fault := s.fault
	s.faultMu.RUnlock()
	if fault != nil {
		if err := fault(clientID, currency, amount, dir); err != nil {
			return decimal.Zero, err
		}
	}

	key := walletKey(clientID, currency)
	unlock := s.locks.Lock(key)
	defer unlock()

	s.walletMu.RLock()
	b, ok := s.wallets[key]
	s.walletMu.RUnlock()
	current := decimal.Zero
	if ok {
		current = b.Amount
	}
	next, err := wallet.Next(current, operation.RoundMoney(amount), dir)
	if err != nil {
		return decimal.Zero, err
	}

	s.walletMu.Lock()
	s.wallets[key] = &wallet.Balance{ClientID: clientID, Currency: currency, Amount: next, UpdatedAt: s.now()}
	s.walletMu.Unlock()
	return next, nil
}

func (s *Store) ListBalances(_ context.Context, clientID uuid.UUID) ([]wallet.Balance, error) {
	s.walletMu.RLock()
	defer s.walletMu.RUnlock()
	out := make([]wallet.Balance, 0, len(operation.Currencies))
	for _, c := range operation.Currencies {
		if b, ok := s.wallets[walletKey(clientID, c)]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *Store) clientExists(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok
}

func (s *Store) CreateClient(ctx context.Context, c store.Client, currencies []operation.Currency) (store.Client, error) {
	now := s.now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ResetDate.IsZero() {
		c.ResetDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.clients[c.ID]; exists {
		s.mu.Unlock()
		return store.Client{}, apperr.Invalid("id", "client already exists")
	}
	s.clients[c.ID] = c
	s.mu.Unlock()

	s.walletMu.Lock()
	defer s.walletMu.Unlock()
	for _, cur := range currencies {
		key := walletKey(c.ID, cur)
		if _, ok := s.wallets[key]; !ok {
			s.wallets[key] = &wallet.Balance{ClientID: c.ID, Currency: cur, Amount: decimal.Zero, UpdatedAt: now}
		}
	}
	return c, nil
}

func (s *Store) GetClient(_ context.Context, id uuid.UUID) (store.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return store.Client{}, apperr.NotFound("client", id.String())
	}
	return c, nil
}

// LockClient is a plain read; callers serialize limit checks themselves.
func (s *Store) LockClient(ctx context.Context, id uuid.UUID) (store.Client, error) {
	return s.GetClient(ctx, id)
}

func (s *Store) UpdateLimit(_ context.Context, id uuid.UUID, limit decimal.Decimal) (store.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return store.Client{}, apperr.NotFound("client", id.String())
	}
	c.AnnualLimit = operation.RoundMoney(limit)
	c.UpdatedAt = s.now()
	s.clients[id] = c
	return c, nil
}

func toUsage(c store.Client) usage.Usage {
	return usage.Usage{ClientID: c.ID, Limit: c.AnnualLimit, Current: c.CurrentUsage, ResetDate: c.ResetDate}
}

func (s *Store) GetUsage(_ context.Context, clientID uuid.UUID) (usage.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return usage.Usage{}, apperr.NotFound("client", clientID.String())
	}
	return toUsage(c), nil
}

func (s *Store) AddUsage(_ context.Context, clientID uuid.UUID, delta decimal.Decimal) (usage.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return usage.Usage{}, apperr.NotFound("client", clientID.String())
	}
	c.CurrentUsage = decimal.Max(c.CurrentUsage.Add(operation.RoundMoney(delta)), decimal.Zero)
	c.UpdatedAt = s.now()
	s.clients[clientID] = c
	return toUsage(c), nil
}

func (s *Store) ResetIfBefore(_ context.Context, clientID uuid.UUID, year int, resetDate time.Time) (usage.Usage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return usage.Usage{}, false, apperr.NotFound("client", clientID.String())
	}
	if c.ResetDate.Year() >= year {
		return toUsage(c), false, nil
	}
	c.CurrentUsage = decimal.Zero
	c.ResetDate = resetDate
	c.UpdatedAt = s.now()
	s.clients[clientID] = c
	return toUsage(c), true, nil
}

func (s *Store) ResetAllBefore(_ context.Context, year int, resetDate time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.clients {
		if c.ResetDate.Year() >= year {
			continue
		}
		c.CurrentUsage = decimal.Zero
		c.ResetDate = resetDate
		c.UpdatedAt = s.now()
		s.clients[id] = c
		n++
	}
	return n, nil
}

func (s *Store) CreateOperation(_ context.Context, op operation.Operation) (operation.Operation, error) {
	now := s.now()
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.Status == "" {
		op.Status = operation.DefaultStatus(op)
	}
	op.CreatedAt = now
	op.UpdatedAt = now
	if op.Status == operation.StatusExecuted && op.ExecutedAt == nil {
		op.ExecutedAt = &now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[op.ClientID]; !ok {
		return operation.Operation{}, apperr.NotFound("client", op.ClientID.String())
	}
	if _, ok := s.operations[op.ID]; ok {
		return operation.Operation{}, apperr.Invalid("id", "operation already exists")
	}
	s.operations[op.ID] = op
	return op, nil
}

func (s *Store) GetOperation(_ context.Context, id uuid.UUID) (operation.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return operation.Operation{}, apperr.NotFound("operation", id.String())
	}
	return op, nil
}

// LockOperation is a plain read; the map has no row locks to hold.
func (s *Store) LockOperation(ctx context.Context, id uuid.UUID) (operation.Operation, error) {
	return s.GetOperation(ctx, id)
}

func (s *Store) FindByProviderOrder(_ context.Context, providerOrderID string) (operation.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, op := range s.operations {
		if providerOrderID != "" && op.ProviderOrderID == providerOrderID {
			return op, nil
		}
	}
	return operation.Operation{}, apperr.NotFound("operation", providerOrderID)
}

func (s *Store) ListOperations(_ context.Context, clientID uuid.UUID, filter operation.Filter) ([]operation.Operation, string, error) {
	limit := operation.ClampLimit(filter.Limit)
	var (
		cursorTS time.Time
		cursorID uuid.UUID
		err      error
	)
	if filter.Cursor != "" {
		cursorTS, cursorID, err = operation.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", err
		}
	}

	s.mu.RLock()
	matches := make([]operation.Operation, 0)
	for _, op := range s.operations {
		involved := op.ClientID == clientID || (op.DestinationClientID != nil && *op.DestinationClientID == clientID)
		if !involved {
			continue
		}
		if !filter.IncludeInactive && op.Status.Reverted() {
			continue
		}
		if filter.Kind != "" && op.Kind != filter.Kind {
			continue
		}
		if filter.Cursor != "" && !operation.Before(op, cursorTS, cursorID) {
			continue
		}
		matches = append(matches, op)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID.String() > matches[j].ID.String()
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	next := ""
	if len(matches) > limit {
		matches = matches[:limit]
		last := matches[len(matches)-1]
		next = operation.EncodeCursor(last.CreatedAt, last.ID)
	}
	return matches, next, nil
}

func (s *Store) UpdateOperation(_ context.Context, op operation.Operation) (operation.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.operations[op.ID]
	if !ok {
		return operation.Operation{}, apperr.NotFound("operation", op.ID.String())
	}
	op.CreatedAt = existing.CreatedAt
	op.UpdatedAt = s.now()
	s.operations[op.ID] = op
	return op, nil
}

func (s *Store) DeleteOperation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[id]; !ok {
		return apperr.NotFound("operation", id.String())
	}
	delete(s.operations, id)
	return nil
}

func (s *Store) InsertAudit(_ context.Context, entry store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of the recorded audit trail.
func (s *Store) AuditEntries() []store.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.AuditEntry(nil), s.audit...)
}

func (s *Store) MarkEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; ok {
		return false, nil
	}
	s.events[eventID] = struct{}{}
	return true, nil
}

func (s *Store) SystemRate(_ context.Context, pair rates.Pair) (rates.SystemRate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.system[pair]
	return r, ok, nil
}

func (s *Store) ClientMarkup(_ context.Context, clientID uuid.UUID, pair rates.Pair) (rates.ClientMarkup, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markups[clientID.String()+":"+pair.String()]
	return m, ok, nil
}

func (s *Store) UpsertSystemRate(_ context.Context, r rates.SystemRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system[r.Pair] = r
	return nil
}

func (s *Store) UpsertClientMarkup(_ context.Context, m rates.ClientMarkup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markups[m.ClientID.String()+":"+m.Pair.String()] = m
	return nil
}

var (
	_ store.Store        = (*Store)(nil)
	_ rates.MarkupSource = (*Store)(nil)
)
