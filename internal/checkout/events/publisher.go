// Package events publishes checkout notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// Redemption is one committed ledger deduction of a synced sale.
type Redemption struct {
	ResourceID     string          `json:"resource_id"`
	RewardID       string          `json:"reward_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
}

// SaleSynced is emitted once per order after the backend accepted it.
type SaleSynced struct {
	OrderID     string          `json:"order_id"`
	Reference   string          `json:"reference"`
	StoreID     string          `json:"store_id"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	SyncedAt    time.Time       `json:"synced_at"`
	Redemptions []Redemption    `json:"redemptions"`
}

// Publisher sends checkout events.
type Publisher interface {
	PublishSaleSynced(ctx context.Context, ev SaleSynced) error
	Close() error
}

// messageWriter abstracts kafka.Writer for testability.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic, keyed by order reference so
// every event of a sale lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}}
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishSaleSynced(ctx context.Context, ev SaleSynced) error {
	b, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.Reference),
		Value:   b,
		Headers: []kafka.Header{{Key: "event", Value: []byte("sale.synced")}},
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// Noop drops every event. It is used when no brokers are configured.
type Noop struct{}

func (Noop) PublishSaleSynced(context.Context, SaleSynced) error { return nil }
func (Noop) Close() error                                        { return nil }
