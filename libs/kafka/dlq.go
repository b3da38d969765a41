package kafka

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Dead-letter reasons shared by handlers and the publisher wrapper.
const (
	ReasonDecode      = "decode"
	ReasonInvalid     = "invalid"
	ReasonRejected    = "rejected"
	ReasonMaxAttempts = "max_attempts"
	ReasonPublish     = "publish_failed"
)

const (
	StageConsume = "consume"
	StagePublish = "publish"
)

// DLQError marks a handler failure as permanent: the message is dead-lettered at once
// instead of being redelivered.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

// AsDLQ reports whether err carries a dead-letter marker anywhere in its chain.
func AsDLQ(err error) (*DLQError, bool) {
	var dlqErr *DLQError
	if errors.As(err, &dlqErr) {
		return dlqErr, true
	}
	return nil, false
}

// DeadLetter is the record written to the dead-letter topic. EventID and EventType are
// lifted from the envelope when the payload has one so operators can find the original
// without decoding it.
type DeadLetter struct {
	Stage         string    `json:"stage"`
	OriginalTopic string    `json:"original_topic"`
	Partition     *int32    `json:"partition,omitempty"`
	Offset        *int64    `json:"offset,omitempty"`
	Key           string    `json:"key,omitempty"`
	EventID       string    `json:"event_id,omitempty"`
	EventType     string    `json:"event_type,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	Payload       string    `json:"payload_base64"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConsumedDeadLetter builds the record for a message a handler gave up on.
func ConsumedDeadLetter(msg *sarama.ConsumerMessage, err *DLQError, attempts int) DeadLetter {
	dl := DeadLetter{
		Stage:     StageConsume,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		dl.Reason = err.Reason
		dl.Error = err.Error()
		if err.Err != nil {
			dl.Error = err.Err.Error()
		}
	}
	if msg == nil {
		return dl
	}
	partition, offset := msg.Partition, msg.Offset
	dl.OriginalTopic = msg.Topic
	dl.Partition = &partition
	dl.Offset = &offset
	dl.Key = string(msg.Key)
	dl.withPayload(msg.Value)
	return dl
}

// PublishedDeadLetter builds the record for an outbound message the broker refused.
func PublishedDeadLetter(topic, key string, value any, err error, attempts int) DeadLetter {
	dl := DeadLetter{
		Stage:         StagePublish,
		OriginalTopic: topic,
		Key:           key,
		Reason:        ReasonPublish,
		Attempts:      attempts,
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		dl.Error = err.Error()
	}
	if value != nil {
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			raw = []byte(fmt.Sprintf("%v", value))
		}
		dl.withPayload(raw)
	}
	return dl
}

func (d *DeadLetter) withPayload(raw []byte) {
	if len(raw) == 0 {
		return
	}
	d.Payload = base64.StdEncoding.EncodeToString(raw)
	if env, err := PeekEnvelope(raw); err == nil {
		d.EventID = env.EventID
		d.EventType = env.EventType
	}
}
