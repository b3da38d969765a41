package service

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/storage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgres(t *testing.T) *storage.Store {
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
	return storage.New(pool, nil)
}

// Two services over one database stand in for two ledger replicas, so only the row locks
// keep their cancels apart.
func TestConcurrentCancelsRevertOncePostgres(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()
	replicas := []*LedgerService{
		NewLedgerService(st, newStubQuoter(), usage.NewTracker(st, nil), nil, Config{}, nil, nil),
		NewLedgerService(st, newStubQuoter(), usage.NewTracker(st, nil), nil, Config{}, nil, nil),
	}

	c, err := replicas[0].ProvisionClient(ctx, ClientInput{Name: "acme"})
	require.NoError(t, err)
	_, err = st.ApplyDelta(ctx, c.ID, operation.BRL, d("1000"), wallet.Set)
	require.NoError(t, err)
	created, err := replicas[0].ExecuteFXTrade(ctx, buyUSDT(c.ID))
	require.NoError(t, err)

	const workers = 8
	var (
		mu       sync.Mutex
		reverted int
		errs     []error
	)
	together(workers, func(i int) {
		report, err := replicas[i%len(replicas)].Transition(ctx, TransitionInput{OperationID: created.Operation.ID, Status: operation.StatusCancelled})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		if !report.NoOp {
			reverted++
		}
	})

	require.Empty(t, errs)
	assert.Equal(t, 1, reverted)
	usdt, err := st.GetBalance(ctx, c.ID, operation.USDT)
	require.NoError(t, err)
	brl, err := st.GetBalance(ctx, c.ID, operation.BRL)
	require.NoError(t, err)
	assert.Equal(t, "0.00", usdt.StringFixed(2))
	assert.Equal(t, "1000.00", brl.StringFixed(2))
	u, err := st.GetUsage(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", u.Current.StringFixed(2))
}

func TestConcurrentTradesStayWithinAnnualLimitPostgres(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()
	replicas := []*LedgerService{
		NewLedgerService(st, newStubQuoter(), usage.NewTracker(st, nil), nil, Config{}, nil, nil),
		NewLedgerService(st, newStubQuoter(), usage.NewTracker(st, nil), nil, Config{}, nil, nil),
	}

	limit := d("1000")
	c, err := replicas[0].ProvisionClient(ctx, ClientInput{Name: "acme", AnnualLimit: &limit})
	require.NoError(t, err)
	_, err = st.ApplyDelta(ctx, c.ID, operation.BRL, d("10000"), wallet.Set)
	require.NoError(t, err)

	const workers = 4
	var (
		mu     sync.Mutex
		booked int
	)
	together(workers, func(i int) {
		if _, err := replicas[i%len(replicas)].ExecuteFXTrade(ctx, buyUSDT(c.ID)); err == nil {
			mu.Lock()
			booked++
			mu.Unlock()
		}
	})

	assert.Equal(t, 1, booked)
	u, err := st.GetUsage(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "540.00", u.Current.StringFixed(2))
}
