package mq

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const consumeRetryDelay = time.Second

// KafkaPublisher publishes messages through a shared kafka writer.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers.
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish writes one message to the topic. Keyed messages hash to a stable
// partition so per-key ordering is preserved.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key []byte, payload []byte) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("kafka publisher is not configured")
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// KafkaConsumer consumes topics within a consumer group.
type KafkaConsumer struct {
	brokers []string
	groupID string
}

// NewKafkaConsumer creates a consumer bound to a consumer group.
func NewKafkaConsumer(brokers []string, groupID string) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka group id is required")
	}
	return &KafkaConsumer{brokers: brokers, groupID: groupID}, nil
}

// Consume reads the topic until ctx ends, invoking handler per message.
// Offsets are committed only after the handler succeeds, so delivery is
// at-least-once and handlers must be idempotent.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler Handler) error {
	if c == nil {
		return fmt.Errorf("kafka consumer is not configured")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		StartOffset: kafka.LastOffset,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Printf("mq: close reader for %s: %v", topic, err)
		}
	}()

	for {
		fetched, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("mq: fetch from %s: %v", topic, err)
			if !waitRetry(ctx, consumeRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		msg := Message{
			Topic:   fetched.Topic,
			Key:     fetched.Key,
			Payload: fetched.Value,
			Time:    fetched.Time,
		}
		if err := handler(ctx, msg); err != nil {
			log.Printf("mq: handle message on %s: %v", topic, err)
			if !waitRetry(ctx, consumeRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		if err := reader.CommitMessages(ctx, fetched); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("mq: commit offset on %s: %v", topic, err)
		}
	}
}

func waitRetry(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Consumer  = (*KafkaConsumer)(nil)
)
