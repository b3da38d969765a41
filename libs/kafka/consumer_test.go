package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type handlerFunc func(context.Context, *sarama.ConsumerMessage) error

func (h handlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return h(ctx, msg)
}

type stubSession struct {
	ctx    context.Context
	marked int
}

func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) Claims() map[string][]int32 {
	return map[string][]int32{}
}
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.marked++
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "provider.settlements" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func claimOf(msgs ...*sarama.ConsumerMessage) *stubClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, msg := range msgs {
		ch <- msg
	}
	close(ch)
	return &stubClaim{msgCh: ch}
}

func TestConsumerGroupHandlerDLQsPermanentError(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return DLQ(errors.New("decode failed"), ReasonDecode)
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(3, time.Minute),
	}

	session := &stubSession{ctx: context.Background()}
	claim := claimOf(&sarama.ConsumerMessage{Topic: "provider.settlements", Partition: 0, Offset: 1, Value: []byte("bad")})

	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if session.marked != 1 {
		t.Fatalf("expected message to be marked, got %d", session.marked)
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	payload, ok := dlq.calls[0].value.(DeadLetter)
	if !ok {
		t.Fatalf("expected DeadLetter, got %T", dlq.calls[0].value)
	}
	if payload.Reason != ReasonDecode || payload.Attempts != 1 || payload.Stage != StageConsume {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestConsumerGroupHandlerRetriesTransientError(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return errors.New("db unavailable")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(2, time.Minute),
	}
	msg := &sarama.ConsumerMessage{Topic: "provider.settlements", Partition: 0, Offset: 7}

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, claimOf(msg)); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if session.marked != 0 || len(dlq.calls) != 0 {
		t.Fatalf("first failure should not be marked or dead-lettered")
	}

	if err := handler.ConsumeClaim(session, claimOf(msg)); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if session.marked != 1 {
		t.Fatalf("expected message to be marked after exhausting attempts, got %d", session.marked)
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	if payload := dlq.calls[0].value.(DeadLetter); payload.Reason != ReasonMaxAttempts {
		t.Fatalf("expected max_attempts reason, got %s", payload.Reason)
	}
}

func TestConsumerGroupHandlerMarksSuccess(t *testing.T) {
	handled := 0
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			handled++
			return nil
		}),
		logger:       slog.Default(),
		retryTracker: newRetryTracker(1, time.Minute),
	}
	session := &stubSession{ctx: context.Background()}
	claim := claimOf(
		&sarama.ConsumerMessage{Topic: "provider.settlements", Offset: 1},
		&sarama.ConsumerMessage{Topic: "provider.settlements", Offset: 2},
	)
	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if handled != 2 || session.marked != 2 {
		t.Fatalf("expected 2 handled and marked, got %d/%d", handled, session.marked)
	}
}
