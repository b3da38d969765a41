package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// SetupTestDB connects to the integration database and applies the ledger schema. With
// TEST_DB_CONTAINER=1 a throwaway Postgres is started once per test binary instead of
// using the POSTGRES_* environment.
func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := envDSN()
	if os.Getenv("TEST_DB_CONTAINER") == "1" {
		containerOnce.Do(func() {
			containerDSN, containerErr = startPostgresContainer(context.Background())
		})
		if containerErr != nil {
			return nil, fmt.Errorf("start postgres container: %w", containerErr)
		}
		dsn = containerDSN
	}

	if err := migrations.Up(dsn); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

func envDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "swap"),
		getEnv("POSTGRES_PASSWORD", "swap"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "swap_ledger"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)
}

// startPostgresContainer leaves the container running; the testcontainers reaper removes it
// when the test process exits.
func startPostgresContainer(ctx context.Context) (string, error) {
	pg, err := tcpostgres.Run(
		ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("swap_ledger"),
		tcpostgres.WithUsername("swap"),
		tcpostgres.WithPassword("swap"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", err
	}
	return pg.ConnectionString(ctx, "sslmode=disable")
}

// CleanupTestData removes rows created by integration tests, children first.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		"DELETE FROM audit_logs",
		"DELETE FROM processed_events",
		"DELETE FROM operations",
		"DELETE FROM client_markups",
		"DELETE FROM system_rates",
		"DELETE FROM wallets",
		"DELETE FROM clients",
	}

	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
