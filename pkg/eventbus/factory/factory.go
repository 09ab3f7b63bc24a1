// Package factory opens the message broker selected by realtime.bus.
package factory

import (
	"fmt"
	"strings"

	"github.com/nimburion/docstore/pkg/config"
	"github.com/nimburion/docstore/pkg/eventbus"
	"github.com/nimburion/docstore/pkg/eventbus/kafka"
	"github.com/nimburion/docstore/pkg/eventbus/rabbitmq"
	"github.com/nimburion/docstore/pkg/eventbus/sqs"
	"github.com/nimburion/docstore/pkg/observability/logger"
)

// Cosa fa: seleziona e inizializza il broker in base a realtime.bus.
// Cosa NON fa: non gestisce inmemory e redis, che non passano da un broker.
// Esempio minimo: broker, err := factory.NewBroker(cfg.Realtime, log)
func NewBroker(cfg config.RealtimeConfig, log logger.Logger) (eventbus.Broker, error) {
	var (
		b   eventbus.Broker
		err error
	)
	broker := cfg.Broker
	switch strings.ToLower(strings.TrimSpace(cfg.Bus)) {
	case config.BusTypeKafka:
		var a *kafka.Adapter
		a, err = kafka.NewAdapter(kafka.Config{
			Brokers:          broker.Kafka.Brokers,
			GroupID:          broker.Kafka.GroupID,
			OperationTimeout: broker.OperationTimeout,
		}, log)
		b = a
	case config.BusTypeRabbitMQ:
		var a *rabbitmq.Adapter
		a, err = rabbitmq.NewAdapter(rabbitmq.Config{
			URL:              broker.RabbitMQ.URL,
			Exchange:         broker.RabbitMQ.Exchange,
			OperationTimeout: broker.OperationTimeout,
		}, log)
		b = a
	case config.BusTypeSQS:
		var a *sqs.Adapter
		a, err = sqs.NewAdapter(sqs.Config{
			Region:            broker.SQS.Region,
			QueueURL:          broker.SQS.QueueURL,
			Endpoint:          broker.SQS.Endpoint,
			AccessKeyID:       broker.SQS.AccessKeyID,
			SecretAccessKey:   broker.SQS.SecretAccessKey,
			SessionToken:      broker.SQS.SessionToken,
			OperationTimeout:  broker.OperationTimeout,
			WaitTimeSeconds:   broker.SQS.WaitTimeSeconds,
			MaxMessages:       broker.SQS.MaxMessages,
			VisibilityTimeout: broker.SQS.VisibilityTimeout,
		}, log)
		b = a
	default:
		return nil, fmt.Errorf("unsupported broker bus %q (supported: kafka, rabbitmq, sqs)", cfg.Bus)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// IsBroker reports whether bus is served by NewBroker.
func IsBroker(bus string) bool {
	switch strings.ToLower(strings.TrimSpace(bus)) {
	case config.BusTypeKafka, config.BusTypeRabbitMQ, config.BusTypeSQS:
		return true
	}
	return false
}
