// Package publisher puts ledger events on Kafka.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/kafka"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/google/uuid"
)

const (
	balancesUpdatedEventType = "balances.updated"
	eventVersion             = 1
)

type Topics struct {
	Operations string
	Balances   string
}

type OperationMessage struct {
	kafka.Envelope
	OperationID         string  `json:"operation_id"`
	Type                string  `json:"type"`
	ClientID            string  `json:"client_id"`
	DestinationClientID *string `json:"destination_client_id,omitempty"`
	Status              string  `json:"status"`
	PreviousStatus      string  `json:"previous_status,omitempty"`
	SourceCurrency      string  `json:"source_currency,omitempty"`
	TargetCurrency      string  `json:"target_currency,omitempty"`
	SourceAmount        string  `json:"source_amount"`
	TargetAmount        string  `json:"target_amount"`
	ExchangeRate        string  `json:"exchange_rate"`
	HomeAmount          string  `json:"home_amount"`
	ProviderOrderID     string  `json:"provider_order_id,omitempty"`
	Actor               string  `json:"actor,omitempty"`
}

type BalanceItem struct {
	Currency  string `json:"currency"`
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
}

// BalancesMessage lists the wallets of one client moved by one operation.
type BalancesMessage struct {
	kafka.Envelope
	OperationID string        `json:"operation_id"`
	ClientID    string        `json:"client_id"`
	Balances    []BalanceItem `json:"balances"`
}

// KafkaPublisher implements service.EventPublisher. Operation events are keyed by client so
// one client's history stays ordered on a partition.
type KafkaPublisher struct {
	producer kafka.Publisher
	topics   Topics
	source   string
	logger   *slog.Logger
}

func New(producer kafka.Publisher, topics Topics, source string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if producer == nil {
		producer = kafka.NopPublisher{}
	}
	return &KafkaPublisher{producer: producer, topics: topics, source: source, logger: logger}
}

func (p *KafkaPublisher) PublishOperation(ctx context.Context, event service.OperationEvent) error {
	op := event.Operation
	// Status and update time make a replayed transition reuse its id.
	eventID := kafka.DeterministicEventID(
		event.Type,
		op.ID.String(),
		string(event.PreviousStatus),
		string(op.Status),
		op.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	env, err := p.envelope(eventID, event.Type, op.ID, event.OccurredAt)
	if err != nil {
		return err
	}

	msg := OperationMessage{
		Envelope:        env,
		OperationID:     op.ID.String(),
		Type:            string(op.Kind),
		ClientID:        op.ClientID.String(),
		Status:          string(op.Status),
		SourceCurrency:  string(op.SourceCurrency),
		TargetCurrency:  string(op.TargetCurrency),
		SourceAmount:    op.SourceAmount.StringFixed(2),
		TargetAmount:    op.TargetAmount.StringFixed(2),
		ExchangeRate:    op.ExchangeRate.String(),
		HomeAmount:      op.HomeAmount.StringFixed(2),
		ProviderOrderID: op.ProviderOrderID,
		Actor:           event.Actor,
	}
	if event.PreviousStatus != op.Status {
		msg.PreviousStatus = string(event.PreviousStatus)
	}
	if op.DestinationClientID != nil {
		dest := op.DestinationClientID.String()
		msg.DestinationClientID = &dest
	}

	if _, _, err := p.producer.PublishJSON(ctx, p.topics.Operations, op.ClientID.String(), msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// PublishBalances emits one message per client touched by the operation.
func (p *KafkaPublisher) PublishBalances(ctx context.Context, event service.BalanceEvent) error {
	var (
		order    []uuid.UUID
		byClient = map[uuid.UUID][]BalanceItem{}
	)
	for _, w := range event.Wallets {
		if _, ok := byClient[w.ClientID]; !ok {
			order = append(order, w.ClientID)
		}
		byClient[w.ClientID] = append(byClient[w.ClientID], BalanceItem{
			Currency:  string(w.Currency),
			Direction: string(w.Operation),
			Amount:    w.Amount.StringFixed(2),
			Balance:   w.Balance.StringFixed(2),
		})
	}

	op := event.Operation
	for _, clientID := range order {
		eventID := kafka.DeterministicEventID(
			balancesUpdatedEventType,
			op.ID.String(),
			clientID.String(),
			event.OccurredAt.UTC().Format(time.RFC3339Nano),
		)
		env, err := p.envelope(eventID, balancesUpdatedEventType, op.ID, event.OccurredAt)
		if err != nil {
			return err
		}
		msg := BalancesMessage{
			Envelope:    env,
			OperationID: op.ID.String(),
			ClientID:    clientID.String(),
			Balances:    byClient[clientID],
		}
		if _, _, err := p.producer.PublishJSON(ctx, p.topics.Balances, clientID.String(), msg); err != nil {
			return fmt.Errorf("publish %s: %w", balancesUpdatedEventType, err)
		}
	}
	return nil
}

func (p *KafkaPublisher) envelope(eventID, eventType string, operationID uuid.UUID, occurredAt time.Time) (kafka.Envelope, error) {
	env, err := kafka.NewEnvelopeWithID(eventID, eventType, eventVersion, operationID.String())
	if err != nil {
		return kafka.Envelope{}, err
	}
	env.Source = p.source
	if !occurredAt.IsZero() {
		env.Timestamp = occurredAt.UTC()
	}
	return env, nil
}
