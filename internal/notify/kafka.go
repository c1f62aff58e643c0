package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/pkg/log"
)

// MessageWriter the part of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes confirmations to a topic keyed by order id so
// events of one order stay in one partition
type KafkaPublisher struct {
	writer       MessageWriter
	writeTimeout time.Duration
}

// NewKafkaPublisher creates a synchronous writer for cfg.Topic
func NewKafkaPublisher(cfg config.NotificationConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Compression:            kafka.Lz4,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Errorf("kafka writer: "+msg, args...)
		}),
	}
	return NewKafkaPublisherWithWriter(w, cfg.WriteTimeout)
}

// NewKafkaPublisherWithWriter wraps an existing writer
func NewKafkaPublisherWithWriter(w MessageWriter, writeTimeout time.Duration) *KafkaPublisher {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &KafkaPublisher{writer: w, writeTimeout: writeTimeout}
}

// Publish writes one event and waits for the broker acks
func (p *KafkaPublisher) Publish(ctx context.Context, event *model.ConfirmationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode confirmation %s: %w", event.OrderID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeOrderConfirmed)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish confirmation %s: %w", event.OrderID, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
