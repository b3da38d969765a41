package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/kafka"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/memstore"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeSettler struct {
	report service.Report
	err    error
	last   *service.SettlementInput
}

func (f *fakeSettler) Settle(_ context.Context, in service.SettlementInput) (service.Report, error) {
	f.last = &in
	return f.report, f.err
}

func settlementMessage(t *testing.T, eventID string, mutate func(e *SettlementEvent)) *sarama.ConsumerMessage {
	t.Helper()
	env, err := kafka.NewEnvelopeWithID(eventID, settlementEventType, 1, "")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	event := SettlementEvent{Envelope: env, ProviderOrderID: "po-1", Status: "executed"}
	if mutate != nil {
		mutate(&event)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "provider.settlements", Value: payload}
}

func isDLQ(err error) bool {
	_, ok := kafka.AsDLQ(err)
	return ok
}

func TestSettlementConsumerPassesEvent(t *testing.T) {
	settler := &fakeSettler{}
	consumer := NewSettlementConsumer(settler, slog.Default())
	opID := uuid.New()

	msg := settlementMessage(t, "evt-1", func(e *SettlementEvent) {
		e.OperationID = opID.String()
		e.Status = "FAILED"
		e.Detail = " beneficiary rejected "
	})
	if err := consumer.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if settler.last == nil {
		t.Fatalf("expected Settle to be called")
	}
	if settler.last.OperationID != opID || settler.last.Status != operation.StatusFailed {
		t.Fatalf("unexpected input %+v", settler.last)
	}
	if settler.last.Detail != "beneficiary rejected" || settler.last.EventID != "evt-1" {
		t.Fatalf("unexpected input %+v", settler.last)
	}
}

func TestSettlementConsumerDeadLettersBadPayloads(t *testing.T) {
	consumer := NewSettlementConsumer(&fakeSettler{}, slog.Default())
	cases := map[string]*sarama.ConsumerMessage{
		"empty":      {},
		"not json":   {Value: []byte("{")},
		"wrong type": settlementMessage(t, "evt-2", func(e *SettlementEvent) { e.EventType = "trades.executed" }),
		"no target":  settlementMessage(t, "evt-3", func(e *SettlementEvent) { e.ProviderOrderID = "" }),
		"bad status": settlementMessage(t, "evt-4", func(e *SettlementEvent) { e.Status = "cancelled" }),
		"bad id":     settlementMessage(t, "evt-5", func(e *SettlementEvent) { e.OperationID = "nope" }),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			if err := consumer.HandleMessage(context.Background(), msg); !isDLQ(err) {
				t.Fatalf("expected dlq error, got %v", err)
			}
		})
	}
}

func TestSettlementConsumerErrorClasses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		dlq  bool
	}{
		{"invalid transition", apperr.ErrInvalidTransition, true},
		{"validation", apperr.Invalid("status", "bad"), true},
		{"not yet booked", apperr.NotFound("operation", "po-1"), false},
		{"store down", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			consumer := NewSettlementConsumer(&fakeSettler{err: tc.err}, slog.Default())
			err := consumer.HandleMessage(context.Background(), settlementMessage(t, "evt-x", nil))
			if err == nil {
				t.Fatalf("expected error")
			}
			if isDLQ(err) != tc.dlq {
				t.Fatalf("expected dlq=%v, got %v", tc.dlq, err)
			}
		})
	}
}

type noQuotes struct{}

func (noQuotes) HomeCurrency() operation.Currency { return operation.BRL }

func (noQuotes) Quote(context.Context, rates.QuoteRequest) (rates.Quote, error) {
	return rates.Quote{}, errors.New("not used")
}

func (noQuotes) HomeEquivalent(_ context.Context, _ operation.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount, nil
}

func (noQuotes) Execute(context.Context, string) (rates.Execution, error) {
	return rates.Execution{}, nil
}

func TestSettlementConsumerAgainstLedger(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := service.NewLedgerService(st, noQuotes{}, usage.NewTracker(st, nil), nil, service.Config{}, nil, nil)
	client, err := svc.ProvisionClient(ctx, service.ClientInput{Name: "acme"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := st.ApplyDelta(ctx, client.ID, operation.USD, decimal.NewFromInt(100), wallet.Set); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	pending, err := svc.Record(ctx, operation.Operation{
		Kind:            operation.KindExternalWithdrawal,
		ClientID:        client.ID,
		SourceCurrency:  operation.USD,
		SourceAmount:    decimal.NewFromInt(40),
		ProviderOrderID: "po-9",
	}, "ops")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	consumer := NewSettlementConsumer(svc, slog.Default())
	msg := settlementMessage(t, "evt-9", func(e *SettlementEvent) {
		e.ProviderOrderID = "po-9"
		e.Status = "failed"
	})
	if err := consumer.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := consumer.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	op, err := svc.GetOperation(ctx, pending.Operation.ID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if op.Status != operation.StatusFailed {
		t.Fatalf("expected failed, got %s", op.Status)
	}
	balance, _ := st.GetBalance(ctx, client.ID, operation.USD)
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected withdrawal reverted once, got %s", balance)
	}
}
