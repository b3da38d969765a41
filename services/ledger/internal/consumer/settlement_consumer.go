package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/kafka"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/google/uuid"
)

const settlementEventType = "provider.settlement"

// SettlementEvent is what the bank adapter emits once an order or transfer settles.
type SettlementEvent struct {
	kafka.Envelope
	OperationID     string `json:"operation_id,omitempty"`
	ProviderOrderID string `json:"provider_order_id,omitempty"`
	Status          string `json:"status"`
	Detail          string `json:"detail,omitempty"`
}

type Settler interface {
	Settle(ctx context.Context, in service.SettlementInput) (service.Report, error)
}

type SettlementConsumer struct {
	ledger Settler
	logger *slog.Logger
}

func NewSettlementConsumer(ledger Settler, logger *slog.Logger) *SettlementConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementConsumer{ledger: ledger, logger: logger}
}

// HandleMessage settles one operation. Malformed events and settlements the ledger can
// never accept go to the dead-letter topic; anything else is retried.
func (c *SettlementConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), kafka.ReasonDecode)
	}
	var event SettlementEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode %s: %w", settlementEventType, err), kafka.ReasonDecode)
	}
	in, err := event.input()
	if err != nil {
		return kafka.DLQ(err, kafka.ReasonInvalid)
	}

	report, err := c.ledger.Settle(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidTransition):
		c.logger.Warn("settlement rejected", "event_id", event.EventID, "operation_id", event.OperationID, "provider_order_id", event.ProviderOrderID, "error", err)
		return kafka.DLQ(err, kafka.ReasonRejected)
	default:
		// Not-found included: a fill can arrive before its trade is booked.
		return fmt.Errorf("settle %s: %w", event.EventID, err)
	}

	if report.NoOp {
		c.logger.Info("settlement already applied", "event_id", event.EventID, "operation_id", report.Operation.ID)
		return nil
	}
	c.logger.Info("settlement applied",
		"event_id", event.EventID,
		"operation_id", report.Operation.ID,
		"status", report.Operation.Status,
		"negative_balances", len(report.NegativeBalances),
	)
	return nil
}

func (e *SettlementEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != settlementEventType {
		return fmt.Errorf("unexpected event_type: %s", e.EventType)
	}
	if strings.TrimSpace(e.OperationID) == "" && strings.TrimSpace(e.ProviderOrderID) == "" {
		return fmt.Errorf("operation_id or provider_order_id is required")
	}
	status, err := operation.ParseStatus(e.Status)
	if err != nil {
		return err
	}
	if status != operation.StatusExecuted && status != operation.StatusFailed {
		return fmt.Errorf("status must be executed or failed")
	}
	return nil
}

func (e *SettlementEvent) input() (service.SettlementInput, error) {
	if err := e.Validate(); err != nil {
		return service.SettlementInput{}, err
	}
	status, _ := operation.ParseStatus(e.Status)
	in := service.SettlementInput{
		ProviderOrderID: strings.TrimSpace(e.ProviderOrderID),
		Status:          status,
		Detail:          strings.TrimSpace(e.Detail),
		EventID:         e.EventID,
	}
	if raw := strings.TrimSpace(e.OperationID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return service.SettlementInput{}, fmt.Errorf("invalid operation_id")
		}
		in.OperationID = id
	}
	return in, nil
}
