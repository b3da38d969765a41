package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/auth"
	baseconfig "github.com/VictorAbrao/swap-fintech-core-sub000/libs/config"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/config"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/storage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	acmeID   = uuid.MustParse("00000000-0000-0000-0000-000000000101")
	globexID = uuid.MustParse("00000000-0000-0000-0000-000000000102")
)

type demoClient struct {
	ID    uuid.UUID
	Name  string
	Limit decimal.Decimal
}

var demoClients = []demoClient{
	{ID: acmeID, Name: "Acme Importadora", Limit: decimal.NewFromInt(1_000_000)},
	{ID: globexID, Name: "Globex Exportacao", Limit: decimal.Zero},
}

func main() {
	if err := baseconfig.LoadDotEnv(); err != nil {
		log.Fatalf("load env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.App.Env != "dev" && cfg.App.Env != "test" {
		log.Fatalf("refusing to seed: env must be 'dev' or 'test' (got '%s')", cfg.App.Env)
	}
	if cfg.Storage.Driver != config.StoragePostgres {
		log.Fatalf("refusing to seed: storage driver is %q, nothing would persist", cfg.Storage.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := storage.New(pool, nil)

	fmt.Println("Seeding database...")

	created, err := seedClients(ctx, st)
	if err != nil {
		log.Fatalf("seed clients: %v", err)
	}
	fmt.Println("✓ Clients and wallets seeded")

	if err := seedSystemRates(ctx, st); err != nil {
		log.Fatalf("seed system rates: %v", err)
	}
	fmt.Println("✓ System rates seeded")

	if err := seedClientMarkups(ctx, st); err != nil {
		log.Fatalf("seed client markups: %v", err)
	}
	fmt.Println("✓ Client markups seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, st, cfg, created); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nClients:")
	for _, c := range demoClients {
		fmt.Printf("  %s: %s\n", c.Name, c.ID)
	}

	if cfg.App.Env == "dev" {
		fmt.Println("\nTokens (DEV ONLY, valid 24h):")
		for _, role := range []string{"admin", "operator"} {
			token, err := devToken(role, []byte(cfg.Auth.JWTSecret))
			if err != nil {
				log.Fatalf("sign %s token: %v", role, err)
			}
			fmt.Printf("  %s: %s\n", role, token)
		}
	}
}

// seedClients provisions each demo client once and reports which ones were new.
func seedClients(ctx context.Context, st *storage.Store) (map[uuid.UUID]bool, error) {
	created := make(map[uuid.UUID]bool, len(demoClients))
	now := time.Now().UTC()
	for _, c := range demoClients {
		_, err := st.GetClient(ctx, c.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		if _, err := st.CreateClient(ctx, store.Client{
			ID:          c.ID,
			Name:        c.Name,
			AnnualLimit: c.Limit,
			ResetDate:   time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
		}, operation.Currencies); err != nil {
			return nil, fmt.Errorf("create %s: %w", c.Name, err)
		}
		created[c.ID] = true
	}
	return created, nil
}

func seedSystemRates(ctx context.Context, st *storage.Store) error {
	rows := []rates.SystemRate{
		{Pair: rates.Pair{From: operation.BRL, To: operation.USD}, MarkupPercentage: decimal.RequireFromString("0.50"), SpreadBps: decimal.NewFromInt(10)},
		{Pair: rates.Pair{From: operation.USD, To: operation.BRL}, MarkupPercentage: decimal.RequireFromString("0.50"), SpreadBps: decimal.NewFromInt(10)},
		{Pair: rates.Pair{From: operation.BRL, To: operation.EUR}, MarkupPercentage: decimal.RequireFromString("0.75"), SpreadBps: decimal.NewFromInt(15)},
		{Pair: rates.Pair{From: operation.EUR, To: operation.BRL}, MarkupPercentage: decimal.RequireFromString("0.75"), SpreadBps: decimal.NewFromInt(15)},
		{Pair: rates.Pair{From: operation.USD, To: operation.EUR}, MarkupPercentage: decimal.RequireFromString("0.25"), FixedFee: decimal.NewFromInt(5)},
	}
	for _, r := range rows {
		if err := st.UpsertSystemRate(ctx, r); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Pair, err)
		}
	}
	return nil
}

func seedClientMarkups(ctx context.Context, st *storage.Store) error {
	rows := []rates.ClientMarkup{
		{ClientID: acmeID, Pair: rates.Pair{From: operation.BRL, To: operation.USD}, MarkupPercentage: decimal.RequireFromString("0.30")},
		{ClientID: globexID, Pair: rates.Pair{From: operation.USD, To: operation.BRL}, MarkupPercentage: decimal.RequireFromString("0.20"), FixedFee: decimal.NewFromInt(10)},
	}
	for _, m := range rows {
		if err := st.UpsertClientMarkup(ctx, m); err != nil {
			return fmt.Errorf("upsert %s for %s: %w", m.Pair, m.ClientID, err)
		}
	}
	return nil
}

func devToken(role string, secret []byte) (string, error) {
	now := time.Now()
	return auth.Sign(auth.Claims{
		Roles: []string{role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "seed-" + role,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
	}, secret)
}
