package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bdobrica/uklid/common/retry"
	"github.com/bdobrica/uklid/internal/uklid/store"
)

// KafkaConfig configures the broker publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish including retries. Defaults to
	// DefaultPublishTimeout.
	WriteTimeout time.Duration
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic. Messages are keyed
// by session (property for session-less events) so one session's events stay
// in one partition and keep their order.
type KafkaPublisher struct {
	writer  kafkaMessageWriter
	timeout time.Duration
	retry   retry.Config
	logger  *slog.Logger
}

// wireEvent is the message schema on the topic.
type wireEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	PropertyID string          `json:"property_id"`
	SessionID  string          `json:"session_id,omitempty"`
	Type       string          `json:"type"`
	StartedAt  time.Time       `json:"started_at"`
	Note       string          `json:"note,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// NewKafkaPublisher returns a publisher for cfg.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("eventlog: kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("eventlog: at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(w, cfg.WriteTimeout, logger), nil
}

func newKafkaPublisher(w kafkaMessageWriter, timeout time.Duration, logger *slog.Logger) *KafkaPublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer:  w,
		timeout: timeout,
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     400 * time.Millisecond,
			Op:           "kafka publish",
		},
		logger: logger.With("component", "event_publisher"),
	}
}

// Publish writes e to the topic, retrying transient broker errors.
func (p *KafkaPublisher) Publish(ctx context.Context, e store.Event) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	value, err := json.Marshal(wireEvent{
		ID:         e.ID,
		TenantID:   e.TenantID,
		PropertyID: e.PropertyID,
		SessionID:  e.SessionID,
		Type:       e.Type,
		StartedAt:  e.StartedAt.UTC(),
		Note:       e.Note,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("eventlog: encode event: %w", err)
	}
	key := e.SessionID
	if key == "" {
		key = e.PropertyID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "tenant_id", Value: []byte(e.TenantID)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msg)
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
