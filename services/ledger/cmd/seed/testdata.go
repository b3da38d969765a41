package main

import (
	"context"
	"fmt"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/config"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/storage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Opening balances are booked in the home currency so no quote is needed.
var openingDeposits = map[uuid.UUID]decimal.Decimal{
	acmeID:   decimal.NewFromInt(250_000),
	globexID: decimal.NewFromInt(100_000),
}

// seedTestData books opening deposits for clients created in this run, so reruns do not
// double the balances.
func seedTestData(ctx context.Context, st *storage.Store, cfg *config.Config, created map[uuid.UUID]bool) error {
	provider := rates.NewHTTPProvider(rates.HTTPProviderConfig{
		BaseURL: cfg.Rates.ProviderURL,
		APIKey:  cfg.Rates.ProviderAPIKey,
		Timeout: cfg.Rates.ProviderTimeout,
	}, nil)
	composer := rates.NewComposer(provider, st, rates.Config{
		HomeCurrency:    cfg.Ledger.HomeCurrency,
		ProviderTimeout: cfg.Rates.ProviderTimeout,
	}, nil, nil)
	svc := service.NewLedgerService(st, composer, usage.NewTracker(st, nil), nil, service.Config{}, nil, nil)

	for _, c := range demoClients {
		amount, ok := openingDeposits[c.ID]
		if !ok || !created[c.ID] {
			continue
		}
		if _, err := svc.RecordDeposit(ctx, service.MovementInput{
			ClientID: c.ID,
			Currency: cfg.Ledger.HomeCurrency,
			Amount:   amount,
			Notes:    "opening balance",
			Actor:    "seed",
		}); err != nil {
			return fmt.Errorf("deposit for %s: %w", c.Name, err)
		}
	}
	return nil
}
