package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(func() {
		_ = testutil.CleanupTestData(context.Background(), pool)
		pool.Close()
	})
	return New(pool, nil), pool
}

func createTestClient(t *testing.T, ctx context.Context, s *Store, limit int64) store.Client {
	t.Helper()
	c, err := s.CreateClient(ctx, store.Client{Name: "client-" + uuid.NewString()[:8], AnnualLimit: decimal.NewFromInt(limit)}, operation.Currencies)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}

func TestCreateClientProvisionsWallets(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	c := createTestClient(t, ctx, s, 100000)
	balances, err := s.ListBalances(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListBalances: %v", err)
	}
	if len(balances) != len(operation.Currencies) {
		t.Fatalf("expected %d wallets, got %d", len(operation.Currencies), len(balances))
	}
	if c.ResetDate.IsZero() {
		t.Fatalf("expected reset date to default")
	}
}

func TestApplyDeltaAtomicIncrement(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	c := createTestClient(t, ctx, s, 0)

	var wg sync.WaitGroup
	errCh := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir := wallet.Add
			if i%4 == 0 {
				dir = wallet.Subtract
			}
			if _, err := s.ApplyDelta(ctx, c.ID, operation.USDT, decimal.NewFromInt(10), dir); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("unexpected apply error: %v", err)
	}

	bal, err := s.GetBalance(ctx, c.ID, operation.USDT)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	// 30 adds, 10 subtracts
	if !bal.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected 200, got %s", bal.String())
	}
}

func TestApplyDeltaUnknownClient(t *testing.T) {
	s, _ := setupStore(t)
	_, err := s.ApplyDelta(context.Background(), uuid.New(), operation.BRL, decimal.NewFromInt(1), wallet.Add)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOperationLifecycle(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	a := createTestClient(t, ctx, s, 0)
	b := createTestClient(t, ctx, s, 0)

	created, err := s.CreateOperation(ctx, operation.Operation{
		Kind:                operation.KindTransfer,
		ClientID:            a.ID,
		DestinationClientID: &b.ID,
		SourceCurrency:      operation.BRL,
		TargetCurrency:      operation.BRL,
		SourceAmount:        decimal.RequireFromString("200.004"),
		TargetAmount:        decimal.RequireFromString("200"),
		HomeAmount:          decimal.RequireFromString("200"),
	})
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if created.Status != operation.StatusExecuted || created.ExecutedAt == nil {
		t.Fatalf("expected executed internal transfer, got %s", created.Status)
	}
	if created.SourceAmount.String() != "200" {
		t.Fatalf("expected amount rounded to 200, got %s", created.SourceAmount)
	}

	got, err := s.GetOperation(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if got.DestinationClientID == nil || *got.DestinationClientID != b.ID {
		t.Fatalf("destination not persisted")
	}

	got.Status = operation.StatusCancelled
	got.Notes = "client request"
	updated, err := s.UpdateOperation(ctx, got)
	if err != nil {
		t.Fatalf("UpdateOperation: %v", err)
	}
	if updated.Status != operation.StatusCancelled || updated.Notes != "client request" {
		t.Fatalf("unexpected update result %+v", updated)
	}

	ops, _, err := s.ListOperations(ctx, b.ID, operation.Filter{})
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("cancelled operations must be hidden by default")
	}
	ops, _, err = s.ListOperations(ctx, b.ID, operation.Filter{IncludeInactive: true})
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected destination to see the transfer, got %d", len(ops))
	}

	if err := s.DeleteOperation(ctx, created.ID); err != nil {
		t.Fatalf("DeleteOperation: %v", err)
	}
	if _, err := s.GetOperation(ctx, created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestListOperationsCursor(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	c := createTestClient(t, ctx, s, 0)

	for i := 0; i < 5; i++ {
		if _, err := s.CreateOperation(ctx, operation.Operation{
			Kind:           operation.KindDeposit,
			ClientID:       c.ID,
			SourceCurrency: operation.USD,
			SourceAmount:   decimal.NewFromInt(int64(i + 1)),
		}); err != nil {
			t.Fatalf("CreateOperation: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	seen := map[uuid.UUID]bool{}
	cursor := ""
	for page := 0; page < 5; page++ {
		ops, next, err := s.ListOperations(ctx, c.ID, operation.Filter{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("ListOperations: %v", err)
		}
		for _, op := range ops {
			if seen[op.ID] {
				t.Fatalf("operation %s returned twice", op.ID)
			}
			seen[op.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 operations across pages, got %d", len(seen))
	}
}

func TestUsageClampAndReset(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	c := createTestClient(t, ctx, s, 1000)

	u, err := s.AddUsage(ctx, c.ID, decimal.NewFromInt(300))
	if err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	if !u.Current.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected 300, got %s", u.Current)
	}
	u, err = s.AddUsage(ctx, c.ID, decimal.NewFromInt(-500))
	if err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	if !u.Current.IsZero() {
		t.Fatalf("expected clamp at 0, got %s", u.Current)
	}

	if _, err := s.AddUsage(ctx, c.ID, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	nextYear := time.Now().UTC().Year() + 1
	resetDate := time.Date(nextYear, 1, 1, 0, 0, 0, 0, time.UTC)
	u, changed, err := s.ResetIfBefore(ctx, c.ID, nextYear, resetDate)
	if err != nil {
		t.Fatalf("ResetIfBefore: %v", err)
	}
	if !changed || !u.Current.IsZero() || u.ResetDate.Year() != nextYear {
		t.Fatalf("expected reset, got changed=%v usage=%s date=%s", changed, u.Current, u.ResetDate)
	}
	_, changed, err = s.ResetIfBefore(ctx, c.ID, nextYear, resetDate)
	if err != nil || changed {
		t.Fatalf("second reset must be a no-op, changed=%v err=%v", changed, err)
	}
}

func TestMarkupsAndEvents(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	c := createTestClient(t, ctx, s, 0)
	pair := rates.Pair{From: operation.USDT, To: operation.BRL}

	if _, found, err := s.SystemRate(ctx, pair); err != nil || found {
		t.Fatalf("expected missing system rate, found=%v err=%v", found, err)
	}
	if err := s.UpsertSystemRate(ctx, rates.SystemRate{Pair: pair, MarkupPercentage: decimal.RequireFromString("1.5"), SpreadBps: decimal.NewFromInt(20)}); err != nil {
		t.Fatalf("UpsertSystemRate: %v", err)
	}
	r, found, err := s.SystemRate(ctx, pair)
	if err != nil || !found || !r.MarkupPercentage.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected system rate %+v found=%v err=%v", r, found, err)
	}
	if err := s.UpsertClientMarkup(ctx, rates.ClientMarkup{ClientID: c.ID, Pair: pair, FixedFee: decimal.NewFromInt(2)}); err != nil {
		t.Fatalf("UpsertClientMarkup: %v", err)
	}
	m, found, err := s.ClientMarkup(ctx, c.ID, pair)
	if err != nil || !found || !m.FixedFee.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected client markup %+v found=%v err=%v", m, found, err)
	}

	eventID := "evt_" + uuid.NewString()
	first, err := s.MarkEventProcessed(ctx, eventID)
	if err != nil || !first {
		t.Fatalf("expected first mark to succeed, got %v %v", first, err)
	}
	again, err := s.MarkEventProcessed(ctx, eventID)
	if err != nil || again {
		t.Fatalf("expected duplicate mark to report false, got %v %v", again, err)
	}

	if err := s.InsertAudit(ctx, store.AuditEntry{Actor: "ops", Action: "operation.cancel", EntityType: "operation", EntityID: uuid.New(), Metadata: map[string]string{"from": "executed"}}); err != nil {
		t.Fatalf("InsertAudit: %v", err)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	c := createTestClient(t, ctx, s, 0)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.ApplyDelta(ctx, c.ID, operation.EUR, decimal.NewFromInt(100), wallet.Add); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	bal, err := s.GetBalance(ctx, c.ID, operation.EUR)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.IsZero() {
		t.Fatalf("expected rollback to leave 0, got %s", bal)
	}
}

func TestLockOperationWaitsForCommittedStatus(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	a := createTestClient(t, ctx, s, 0)
	b := createTestClient(t, ctx, s, 0)

	created, err := s.CreateOperation(ctx, operation.Operation{
		Kind:                operation.KindTransfer,
		ClientID:            a.ID,
		DestinationClientID: &b.ID,
		SourceCurrency:      operation.BRL,
		TargetCurrency:      operation.BRL,
		SourceAmount:        decimal.NewFromInt(50),
		TargetAmount:        decimal.NewFromInt(50),
		HomeAmount:          decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}

	locked := make(chan struct{})
	seen := make(chan operation.Status, 1)
	errCh := make(chan error, 1)
	go func() {
		<-locked
		errCh <- s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
			op, err := tx.LockOperation(ctx, created.ID)
			if err != nil {
				return err
			}
			seen <- op.Status
			return nil
		})
	}()

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		op, err := tx.LockOperation(ctx, created.ID)
		if err != nil {
			return err
		}
		close(locked)
		time.Sleep(100 * time.Millisecond)
		op.Status = operation.StatusCancelled
		_, err = tx.UpdateOperation(ctx, op)
		return err
	})
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("second writer: %v", err)
	}
	if status := <-seen; status != operation.StatusCancelled {
		t.Fatalf("second writer read %s before the first committed", status)
	}
}

func TestLockClientWaitsForCommittedUsage(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	c := createTestClient(t, ctx, s, 1000)

	locked := make(chan struct{})
	seen := make(chan decimal.Decimal, 1)
	errCh := make(chan error, 1)
	go func() {
		<-locked
		errCh <- s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
			client, err := tx.LockClient(ctx, c.ID)
			if err != nil {
				return err
			}
			seen <- client.CurrentUsage
			return nil
		})
	}()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.LockClient(ctx, c.ID); err != nil {
			return err
		}
		close(locked)
		time.Sleep(100 * time.Millisecond)
		_, err := tx.AddUsage(ctx, c.ID, decimal.NewFromInt(600))
		return err
	})
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("second writer: %v", err)
	}
	if current := <-seen; !current.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected second writer to see 600, got %s", current)
	}
}

func TestLockOperationNotFound(t *testing.T) {
	s, _ := setupStore(t)
	_, err := s.LockOperation(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
