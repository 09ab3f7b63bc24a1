// Package provider opens the configured document store adapter.
package provider

import (
	"fmt"
	"strings"

	"github.com/nimburion/docstore/pkg/config"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/observability/metrics"
	"github.com/nimburion/docstore/pkg/resilience"
	"github.com/nimburion/docstore/pkg/store"
	"github.com/nimburion/docstore/pkg/store/dynamodb"
	"github.com/nimburion/docstore/pkg/store/memory"
	"github.com/nimburion/docstore/pkg/store/mongodb"
)

// Cosa fa: seleziona e inizializza lo store adapter in base alla config,
// opzionalmente protetto da circuit breaker.
// Cosa NON fa: non gestisce fallback tra provider diversi.
// Esempio minimo: adp, err := provider.Open(cfg.Store, cfg.Breaker, log)
func Open(cfg config.StoreConfig, breaker config.BreakerConfig, log logger.Logger) (store.Adapter, error) {
	if log == nil {
		log = logger.Nop()
	}

	adapter, err := open(cfg, log)
	if err != nil {
		return nil, err
	}
	if !breaker.Enabled {
		return adapter, nil
	}

	cb := resilience.NewStoreBreaker(breaker.MaxFailures, breaker.ResetTimeout,
		resilience.WithStateChange(func(from, to resilience.State) {
			metrics.RecordBreakerTransition(to.String())
			log.Warn("store circuit breaker state changed", "from", from.String(), "to", to.String())
		}),
	)
	return resilience.Guard(adapter, cb), nil
}

func open(cfg config.StoreConfig, log logger.Logger) (store.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", config.StoreTypeMemory:
		return memory.NewAdapter(log), nil
	case config.StoreTypeMongoDB:
		return mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.MongoDB.URL,
			Database:         cfg.MongoDB.Database,
			ConnectTimeout:   cfg.MongoDB.ConnectTimeout,
			OperationTimeout: cfg.MongoDB.OperationTimeout,
			ChangeStreams:    cfg.MongoDB.ChangeStreams,
		}, log)
	case config.StoreTypeDynamoDB:
		return dynamodb.NewAdapter(dynamodb.Config{
			Region:           cfg.DynamoDB.Region,
			Endpoint:         cfg.DynamoDB.Endpoint,
			AccessKeyID:      cfg.DynamoDB.AccessKeyID,
			SecretAccessKey:  cfg.DynamoDB.SecretAccessKey,
			SessionToken:     cfg.DynamoDB.SessionToken,
			TablePrefix:      cfg.DynamoDB.TablePrefix,
			OperationTimeout: cfg.DynamoDB.OperationTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported store.type %q (supported: memory, mongodb, dynamodb)", cfg.Type)
	}
}

// System names the store backing an adapter, for tracing.
func System(cfg config.StoreConfig) string {
	t := strings.ToLower(strings.TrimSpace(cfg.Type))
	if t == "" {
		return config.StoreTypeMemory
	}
	return t
}
