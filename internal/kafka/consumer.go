package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"ms-roster/internal/logger"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// OrderWebhook is an order change notification relayed from the commerce platform.
type OrderWebhook struct {
	OrderID string `json:"orderId"`
	Topic   string `json:"topic,omitempty"`
}

// ParseOrderWebhook accepts {"orderId": "..."}, {"id": 123} or a bare order id.
func ParseOrderWebhook(value []byte) (OrderWebhook, error) {
	raw := strings.TrimSpace(string(value))
	if raw == "" {
		return OrderWebhook{}, errors.New("empty webhook message")
	}
	if raw[0] != '{' {
		return OrderWebhook{OrderID: strings.Trim(raw, `"`)}, nil
	}
	var body struct {
		OrderID string          `json:"orderId"`
		ID      json.RawMessage `json:"id"`
		Topic   string          `json:"topic"`
	}
	if err := json.Unmarshal(value, &body); err != nil {
		return OrderWebhook{}, fmt.Errorf("decode webhook message: %w", err)
	}
	hook := OrderWebhook{OrderID: body.OrderID, Topic: body.Topic}
	if hook.OrderID == "" && len(body.ID) > 0 {
		var n int64
		if err := json.Unmarshal(body.ID, &n); err == nil {
			hook.OrderID = strconv.FormatInt(n, 10)
		} else {
			var s string
			if err := json.Unmarshal(body.ID, &s); err == nil {
				hook.OrderID = s
			}
		}
	}
	if hook.OrderID == "" {
		return OrderWebhook{}, errors.New("webhook message carries no order id")
	}
	return hook, nil
}

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

func NewConsumer(brokers []string, groupID, topic string, log *logger.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			MinBytes:          1,
			MaxBytes:          10e6,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		logger: log,
	}
}

// ConsumeOrderWebhooks blocks until ctx is done. Undecodable messages and handler failures are logged and
// skipped so one bad message cannot stall the partition.
func (c *Consumer) ConsumeOrderWebhooks(ctx context.Context, handler func(context.Context, OrderWebhook) error) error {
	c.logger.LogKafka("CONSUME", c.reader.Config().Topic, "order webhook consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read webhook message: %w", err)
		}

		hook, err := ParseOrderWebhook(msg.Value)
		if err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Skipping message at offset %d: %v", msg.Offset, err))
			continue
		}
		if err := handler(ctx, hook); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("Order webhook %s failed: %v", hook.OrderID, err))
		}
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
