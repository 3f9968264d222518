// Package mq provides the Kafka publish/consume boundary for giftwell
// services. Producers and consumers are thin wrappers over segmentio/kafka-go
// so domain code only sees topics, keys, and payload bytes.
package mq

import (
	"context"
	"time"
)

// Message is one broker message as seen by handlers.
type Message struct {
	Topic   string
	Key     []byte
	Payload []byte
	Time    time.Time
}

// Handler processes one consumed message. Returning an error leaves the
// message uncommitted so it is redelivered.
type Handler func(ctx context.Context, msg Message) error

// Publisher emits messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, payload []byte) error
	Close() error
}

// Consumer subscribes a handler to a topic within a consumer group.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler Handler) error
}
