// Package eventbus carries document change signals over a message broker so
// that listeners in other processes see writes made here. Kafka, RabbitMQ and
// SQS adapters live in the subpackages.
package eventbus

import (
	"context"
	"time"
)

// Broker publishes and consumes messages on named topics.
type Broker interface {
	// Publish sends one message to topic.
	Publish(ctx context.Context, topic string, message *Message) error

	// Subscribe starts delivering messages of topic to handler in the
	// background until Unsubscribe, Close or ctx ends. One handler per topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Unsubscribe stops the subscription for topic.
	Unsubscribe(topic string) error

	// HealthCheck verifies connectivity to the broker.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Message is one broker message.
type Message struct {
	ID string
	// Key selects the partition on brokers that partition topics.
	Key         string
	Value       []byte
	Headers     map[string]string
	ContentType string
	Timestamp   time.Time
}

// MessageHandler processes one consumed message. A returned error leaves the
// message unacknowledged where the broker supports redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error
