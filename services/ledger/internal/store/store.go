// Package store declares the persistence contracts the ledger runs against.
package store

import (
	"context"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Client struct {
	ID           uuid.UUID
	Name         string
	AnnualLimit  decimal.Decimal
	CurrentUsage decimal.Decimal
	ResetDate    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AuditEntry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Metadata   map[string]string
}

type Operations interface {
	CreateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error)
	GetOperation(ctx context.Context, id uuid.UUID) (operation.Operation, error)
	// LockOperation is GetOperation that, inside a transaction, holds the row until commit.
	LockOperation(ctx context.Context, id uuid.UUID) (operation.Operation, error)
	FindByProviderOrder(ctx context.Context, providerOrderID string) (operation.Operation, error)
	ListOperations(ctx context.Context, clientID uuid.UUID, filter operation.Filter) ([]operation.Operation, string, error)
	UpdateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error)
	DeleteOperation(ctx context.Context, id uuid.UUID) error
}

type Clients interface {
	// CreateClient inserts the client and a zero wallet per currency.
	CreateClient(ctx context.Context, c Client, currencies []operation.Currency) (Client, error)
	GetClient(ctx context.Context, id uuid.UUID) (Client, error)
	// LockClient is GetClient that, inside a transaction, holds the row until commit. Units
	// that move annual usage take it before touching any wallet.
	LockClient(ctx context.Context, id uuid.UUID) (Client, error)
	UpdateLimit(ctx context.Context, id uuid.UUID, limit decimal.Decimal) (Client, error)
}

type Store interface {
	wallet.Store
	usage.Store
	Operations
	Clients
	InsertAudit(ctx context.Context, entry AuditEntry) error
	// MarkEventProcessed records eventID and reports false when it was already recorded.
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// Transactor is implemented by stores that can run several writes atomically. fn receives a
// Store bound to the transaction; returning an error rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
