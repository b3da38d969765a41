package service

import (
	"context"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
)

const (
	EventOperationCreated       = "operation.created"
	EventOperationStatusChanged = "operation.status_changed"
	EventOperationAmended       = "operation.amended"
	EventOperationDeleted       = "operation.deleted"
)

type OperationEvent struct {
	Type           string
	Operation      operation.Operation
	PreviousStatus operation.Status
	Actor          string
	OccurredAt     time.Time
}

// BalanceEvent carries the wallet balances left by one unit of work.
type BalanceEvent struct {
	Operation  operation.Operation
	Wallets    []WalletChange
	OccurredAt time.Time
}

// EventPublisher receives events after the ledger write has committed. Errors are logged
// by the caller and never undo the write.
type EventPublisher interface {
	PublishOperation(ctx context.Context, event OperationEvent) error
	PublishBalances(ctx context.Context, event BalanceEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishOperation(context.Context, OperationEvent) error { return nil }
func (nopPublisher) PublishBalances(context.Context, BalanceEvent) error    { return nil }
