// Package kafka implements eventbus.Broker on Apache Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/nimburion/docstore/pkg/eventbus"
	"github.com/nimburion/docstore/pkg/observability/logger"
)

// Adapter publishes with one shared writer and reads every subscribed topic
// with its own reader.
type Adapter struct {
	producer  *kafka.Writer
	consumers map[string]*consumer
	logger    logger.Logger
	config    Config
	mu        sync.RWMutex
	closed    bool
}

type consumer struct {
	reader *kafka.Reader
	cancel context.CancelFunc
}

// Config holds the configuration for the Kafka adapter.
type Config struct {
	// Brokers is the list of broker addresses, e.g. ["localhost:9092"].
	Brokers []string

	OperationTimeout time.Duration

	// MaxRetries bounds producer write attempts.
	MaxRetries int

	// GroupID is the consumer group. Change signals must reach every process,
	// so the default is a group unique to this adapter.
	GroupID string
}

// Cosa fa: prepara writer Kafka e reader per topic.
// Cosa NON fa: non crea i topic, che devono esistere o essere auto-creati dal broker.
// Esempio minimo: adapter, err := kafka.NewAdapter(kafka.Config{Brokers: []string{"localhost:9092"}}, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "docstore-" + uuid.NewString()
	}

	producer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            cfg.MaxRetries,
		WriteTimeout:           cfg.OperationTimeout,
		ReadTimeout:            cfg.OperationTimeout,
		AllowAutoTopicCreation: true,
	}

	log.Info("kafka adapter initialized",
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
	)

	return &Adapter{
		producer:  producer,
		consumers: make(map[string]*consumer),
		logger:    log,
		config:    cfg,
	}, nil
}

// Publish writes one message to topic.
func (a *Adapter) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	if message == nil {
		return fmt.Errorf("message is required")
	}
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return fmt.Errorf("kafka adapter is closed")
	}
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	err := a.producer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(message.Key),
		Value:   message.Value,
		Headers: convertHeaders(message.Headers, message.ID, message.ContentType),
		Time:    message.Timestamp,
	})
	if err != nil {
		a.logger.Error("failed to publish message", "topic", topic, "message_id", message.ID, "error", err)
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a reader for topic. Only messages written after the
// subscription are delivered.
func (a *Adapter) Subscribe(ctx context.Context, topic string, handler eventbus.MessageHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("kafka adapter is closed")
	}
	if _, exists := a.consumers[topic]; exists {
		return fmt.Errorf("already subscribed to topic: %s", topic)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        a.config.Brokers,
		Topic:          topic,
		GroupID:        a.config.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		MaxWait:        500 * time.Millisecond,
	})

	subCtx, cancel := context.WithCancel(ctx)
	a.consumers[topic] = &consumer{reader: reader, cancel: cancel}
	go a.consume(subCtx, topic, reader, handler)

	a.logger.Info("subscribed to topic", "topic", topic, "group_id", a.config.GroupID)
	return nil
}

// Unsubscribe stops the reader of topic.
func (a *Adapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, exists := a.consumers[topic]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", topic)
	}
	delete(a.consumers, topic)
	c.cancel()
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close consumer for topic %s: %w", topic, err)
	}
	return nil
}

// Close stops every reader and flushes the writer.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if err := a.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	for topic, c := range a.consumers {
		c.cancel()
		if err := c.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer for topic %s: %w", topic, err))
		}
	}
	a.consumers = make(map[string]*consumer)
	a.logger.Info("kafka adapter closed")
	return errors.Join(errs...)
}

// HealthCheck dials the first broker and reads cluster metadata.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return fmt.Errorf("kafka adapter is closed")
	}
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", a.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to fetch broker metadata: %w", err)
	}
	return nil
}

func (a *Adapter) consume(ctx context.Context, topic string, reader *kafka.Reader, handler eventbus.MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			a.logger.Warn("failed to fetch message", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		headers := convertKafkaHeaders(msg.Headers)
		event := &eventbus.Message{
			ID:          headers[headerMessageID],
			Key:         string(msg.Key),
			Value:       msg.Value,
			ContentType: headers[headerContentType],
			Headers:     headers,
			Timestamp:   msg.Time,
		}
		if err := handler(ctx, event); err != nil {
			a.logger.Warn("message handler failed",
				"topic", topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			a.logger.Warn("failed to commit message", "topic", topic, "offset", msg.Offset, "error", err)
		}
	}
}

const (
	headerMessageID   = "message-id"
	headerContentType = "content-type"
)

func convertHeaders(headers map[string]string, id, contentType string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+2)
	if id != "" {
		out = append(out, kafka.Header{Key: headerMessageID, Value: []byte(id)})
	}
	if contentType != "" {
		out = append(out, kafka.Header{Key: headerContentType, Value: []byte(contentType)})
	}
	for key, value := range headers {
		out = append(out, kafka.Header{Key: key, Value: []byte(value)})
	}
	return out
}

func convertKafkaHeaders(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, header := range headers {
		out[header.Key] = string(header.Value)
	}
	return out
}
