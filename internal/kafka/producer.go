package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-roster/internal/config"
	"ms-roster/internal/logger"
	"time"

	"github.com/segmentio/kafka-go"
)

// SyncCompleted is the terminal summary of one sync run.
type SyncCompleted struct {
	RunID      string    `json:"runId"`
	Mode       string    `json:"mode"`
	Scope      string    `json:"scope"`
	Status     string    `json:"status"`
	Processed  int       `json:"processed"`
	UpdatedIDs []string  `json:"updatedIds"`
	Skipped    int       `json:"skipped"`
	Conflicts  int       `json:"conflicts"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// OrderUpserted is published for every order a sync created or changed.
type OrderUpserted struct {
	ExternalID string    `json:"externalId"`
	EventIDs   []string  `json:"eventIds"`
	Created    bool      `json:"created"`
	SyncedAt   time.Time `json:"syncedAt"`
}

type Publisher interface {
	PublishSyncCompleted(ctx context.Context, msg SyncCompleted) error
	PublishOrderUpserted(ctx context.Context, msg OrderUpserted) error
	Close() error
}

type Producer struct {
	Writer *kafka.Writer
	topics config.TopicConfig
	logger *logger.Logger
}

// NewProducer writes to several topics, so the topic is set per message.
func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{Writer: writer, topics: topics, logger: log}
}

func (p *Producer) PublishSyncCompleted(ctx context.Context, msg SyncCompleted) error {
	return p.publish(ctx, p.topics.SyncCompleted, msg.RunID, msg)
}

func (p *Producer) PublishOrderUpserted(ctx context.Context, msg OrderUpserted) error {
	return p.publish(ctx, p.topics.OrdersUpserted, msg.ExternalID, msg)
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}

	p.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s", key))

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		p.logger.Error("KAFKA", fmt.Sprintf("Failed to publish to %s: %v", topic, err))
		return fmt.Errorf("failed to write message to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}

// NopPublisher drops every message. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishSyncCompleted(context.Context, SyncCompleted) error { return nil }
func (NopPublisher) PublishOrderUpserted(context.Context, OrderUpserted) error { return nil }
func (NopPublisher) Close() error                                              { return nil }
