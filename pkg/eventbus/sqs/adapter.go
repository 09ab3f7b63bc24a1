// Package sqs implements eventbus.Broker on one AWS SQS queue.
//
// SQS queues deliver each message to a single consumer, so this broker suits
// deployments where one process serves live views. Topics are carried as a
// message attribute and dispatched by a single poll loop.
package sqs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nimburion/docstore/pkg/eventbus"
	"github.com/nimburion/docstore/pkg/observability/logger"
)

const (
	topicAttribute       = "docstore-topic"
	contentTypeAttribute = "content-type"
)

// API is the subset of the SQS client the adapter calls.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Adapter implements eventbus.Broker for AWS SQS.
type Adapter struct {
	client   API
	logger   logger.Logger
	config   Config
	mu       sync.RWMutex
	handlers map[string]eventbus.MessageHandler
	stopPoll context.CancelFunc
	closed   bool
}

// Config holds SQS adapter configuration.
type Config struct {
	Region            string
	QueueURL          string
	Endpoint          string
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	OperationTimeout  time.Duration
	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

// Cosa fa: crea l'adapter SQS con endpoint custom e long polling.
// Cosa NON fa: non crea la coda né le policy IAM.
// Esempio minimo: adapter, err := sqs.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs queue URL is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	adapter := NewAdapterWithClient(sqs.NewFromConfig(awsCfg, opts...), cfg, log)
	if err := adapter.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	return adapter, nil
}

// NewAdapterWithClient builds an adapter around an existing client.
func NewAdapterWithClient(client API, cfg Config, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.WaitTimeSeconds <= 0 {
		cfg.WaitTimeSeconds = 10
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 10
	}
	return &Adapter{
		client:   client,
		logger:   log,
		config:   cfg,
		handlers: make(map[string]eventbus.MessageHandler),
	}
}

// Publish sends message to the queue tagged with topic.
func (a *Adapter) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return fmt.Errorf("sqs adapter is closed")
	}
	a.mu.RUnlock()
	if message == nil {
		return fmt.Errorf("message is required")
	}

	opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	attributes := toSQSAttributes(message.Headers)
	if attributes == nil {
		attributes = make(map[string]types.MessageAttributeValue, 2)
	}
	attributes[topicAttribute] = stringAttribute(topic)
	if message.ContentType != "" {
		attributes[contentTypeAttribute] = stringAttribute(message.ContentType)
	}

	_, err := a.client.SendMessage(opCtx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(a.config.QueueURL),
		MessageBody:       aws.String(string(message.Value)),
		MessageAttributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to publish sqs message: %w", err)
	}
	return nil
}

// Subscribe registers handler for topic. The first subscription starts the
// poll loop.
func (a *Adapter) Subscribe(ctx context.Context, topic string, handler eventbus.MessageHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("sqs adapter is closed")
	}
	if _, ok := a.handlers[topic]; ok {
		return fmt.Errorf("already subscribed to topic: %s", topic)
	}
	a.handlers[topic] = handler
	if a.stopPoll == nil {
		pollCtx, cancel := context.WithCancel(ctx)
		a.stopPoll = cancel
		go a.poll(pollCtx)
	}
	return nil
}

func (a *Adapter) poll(ctx context.Context) {
	for ctx.Err() == nil {
		recvCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout+time.Duration(a.config.WaitTimeSeconds)*time.Second)
		out, err := a.client.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(a.config.QueueURL),
			MaxNumberOfMessages:   a.config.MaxMessages,
			WaitTimeSeconds:       a.config.WaitTimeSeconds,
			VisibilityTimeout:     a.config.VisibilityTimeout,
			MessageAttributeNames: []string{"All"},
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("sqs receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, m := range out.Messages {
			a.dispatch(ctx, m)
		}
	}
}

// dispatch hands m to the handler of its topic and deletes it on success.
// Messages without a handler stay on the queue.
func (a *Adapter) dispatch(ctx context.Context, m types.Message) {
	headers := fromSQSAttributes(m.MessageAttributes)
	topic := headers[topicAttribute]
	a.mu.RLock()
	handler := a.handlers[topic]
	a.mu.RUnlock()
	if handler == nil {
		return
	}

	msg := &eventbus.Message{
		ID:          aws.ToString(m.MessageId),
		Value:       []byte(aws.ToString(m.Body)),
		ContentType: headers[contentTypeAttribute],
		Headers:     headers,
	}
	if err := handler(ctx, msg); err != nil {
		a.logger.Warn("message handler failed", "topic", topic, "message_id", msg.ID, "error", err)
		return
	}
	if m.ReceiptHandle != nil {
		if _, err := a.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(a.config.QueueURL),
			ReceiptHandle: m.ReceiptHandle,
		}); err != nil && ctx.Err() == nil {
			a.logger.Warn("sqs delete failed", "message_id", msg.ID, "error", err)
		}
	}
}

// Unsubscribe removes the handler of topic. The poll loop stops with the last
// handler.
func (a *Adapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.handlers[topic]; !ok {
		return fmt.Errorf("not subscribed to topic: %s", topic)
	}
	delete(a.handlers, topic)
	if len(a.handlers) == 0 && a.stopPoll != nil {
		a.stopPoll()
		a.stopPoll = nil
	}
	return nil
}

// HealthCheck reads the queue ARN.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return fmt.Errorf("sqs adapter is closed")
	}
	a.mu.RUnlock()

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := a.client.GetQueueAttributes(hcCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(a.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

// Close stops polling.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.stopPoll != nil {
		a.stopPoll()
		a.stopPoll = nil
	}
	a.handlers = map[string]eventbus.MessageHandler{}
	return nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func toSQSAttributes(headers map[string]string) map[string]types.MessageAttributeValue {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(headers))
	for k, v := range headers {
		out[k] = stringAttribute(v)
	}
	return out
}

func fromSQSAttributes(headers map[string]types.MessageAttributeValue) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = aws.ToString(v.StringValue)
	}
	return out
}
