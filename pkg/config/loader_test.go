package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/pflag"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.Name != "docstore" {
		t.Errorf("expected service name docstore, got %s", cfg.Service.Name)
	}
	if cfg.Store.Type != StoreTypeMemory {
		t.Errorf("expected store type memory, got %s", cfg.Store.Type)
	}
	if cfg.Realtime.Bus != BusTypeInMemory {
		t.Errorf("expected inmemory bus, got %s", cfg.Realtime.Bus)
	}
	if cfg.Realtime.ClientBuffer != 1 {
		t.Errorf("expected client buffer 1, got %d", cfg.Realtime.ClientBuffer)
	}
	if cfg.Pagination.DefaultPageSize != 20 {
		t.Errorf("expected default page size 20, got %d", cfg.Pagination.DefaultPageSize)
	}
	if cfg.Store.MongoDB.OperationTimeout != 5*time.Second {
		t.Errorf("expected mongodb operation timeout 5s, got %v", cfg.Store.MongoDB.OperationTimeout)
	}
	if cfg.Breaker.Enabled {
		t.Error("expected breaker to be disabled by default")
	}
}

func TestViperLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewViperLoader("", "DOCSTORE").Load()
	if err != nil {
		t.Fatalf("expected no error loading defaults, got: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestViperLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  type: mongodb
  mongodb:
    url: mongodb://file:27017
    database: fromfile
pagination:
  default_page_size: 50
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCSTORE_MONGODB_DATABASE", "fromenv")
	t.Setenv("DOCSTORE_REALTIME_CLIENT_BUFFER", "4")

	cfg, err := NewViperLoader(path, "DOCSTORE").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Type != StoreTypeMongoDB {
		t.Errorf("expected mongodb from file, got %s", cfg.Store.Type)
	}
	if cfg.Store.MongoDB.URL != "mongodb://file:27017" {
		t.Errorf("expected url from file, got %s", cfg.Store.MongoDB.URL)
	}
	if cfg.Store.MongoDB.Database != "fromenv" {
		t.Errorf("expected env to win over file, got %s", cfg.Store.MongoDB.Database)
	}
	if cfg.Pagination.DefaultPageSize != 50 {
		t.Errorf("expected page size 50, got %d", cfg.Pagination.DefaultPageSize)
	}
	if cfg.Realtime.ClientBuffer != 4 {
		t.Errorf("expected client buffer 4, got %d", cfg.Realtime.ClientBuffer)
	}
}

func TestViperLoader_FlagsWin(t *testing.T) {
	t.Setenv("DOCSTORE_LOG_LEVEL", "warn")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.String("store", "", "")
	if err := flags.Parse([]string{"--log-level", "debug"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := NewViperLoader("", "DOCSTORE").WithFlags(flags).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected flag to win, got %s", cfg.Log.Level)
	}
	if cfg.Store.Type != StoreTypeMemory {
		t.Errorf("unset flag must not override defaults, got %q", cfg.Store.Type)
	}
}

func TestViperLoader_KafkaBusFromEnv(t *testing.T) {
	t.Setenv("DOCSTORE_REALTIME_BUS", "kafka")
	t.Setenv("DOCSTORE_REALTIME_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := NewViperLoader("", "DOCSTORE").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Realtime.Bus != BusTypeKafka {
		t.Errorf("expected kafka bus, got %s", cfg.Realtime.Bus)
	}
	if got := cfg.Realtime.Broker.Kafka.Brokers; len(got) != 2 || got[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", got)
	}
	if cfg.Realtime.Broker.Topic != "docstore-changes" {
		t.Errorf("expected default topic, got %s", cfg.Realtime.Broker.Topic)
	}
}

func TestViperLoader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown store", func(c *Config) { c.Store.Type = "cassandra" }, "invalid store.type"},
		{"mongodb without url", func(c *Config) { c.Store.Type = StoreTypeMongoDB }, "store.mongodb.url"},
		{"dynamodb without region", func(c *Config) { c.Store.Type = StoreTypeDynamoDB }, "store.dynamodb.region"},
		{"redis bus without url", func(c *Config) { c.Realtime.Bus = BusTypeRedis }, "realtime.redis.url"},
		{"kafka bus without brokers", func(c *Config) { c.Realtime.Bus = BusTypeKafka }, "realtime.broker.kafka.brokers"},
		{"rabbitmq bus without url", func(c *Config) { c.Realtime.Bus = BusTypeRabbitMQ }, "realtime.broker.rabbitmq.url"},
		{"sqs bus without queue", func(c *Config) { c.Realtime.Bus = BusTypeSQS; c.Realtime.Broker.SQS.Region = "eu-west-1" }, "realtime.broker.sqs.queue_url"},
		{"broker bus without topic", func(c *Config) {
			c.Realtime.Bus = BusTypeKafka
			c.Realtime.Broker.Kafka.Brokers = []string{"localhost:9092"}
			c.Realtime.Broker.Topic = " "
		}, "realtime.broker.topic"},
		{"zero client buffer", func(c *Config) { c.Realtime.ClientBuffer = 0 }, "realtime.client_buffer"},
		{"max below default", func(c *Config) { c.Pagination.MaxPageSize = 5 }, "pagination.max_page_size"},
		{"breaker without failures", func(c *Config) { c.Breaker.Enabled = true; c.Breaker.MaxFailures = 0 }, "breaker.max_failures"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
	}

	loader := NewViperLoader("", "DOCSTORE")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadWithSecrets_RedactsSecretValues(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	secretsPath := filepath.Join(dir, "secrets.yaml")
	if err := os.WriteFile(configPath, []byte("store:\n  type: mongodb\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(secretsPath, []byte("store:\n  mongodb:\n    url: mongodb://user:pw@db:27017\n"), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	cfg, secrets, err := NewViperLoader(configPath, "DOCSTORE").LoadWithSecrets()
	if err != nil {
		t.Fatalf("LoadWithSecrets: %v", err)
	}
	if cfg.Store.MongoDB.URL != "mongodb://user:pw@db:27017" {
		t.Fatalf("secrets must merge into config, got %q", cfg.Store.MongoDB.URL)
	}
	out := cfg.Redacted(secrets)
	if strings.Contains(out, "user:pw") {
		t.Fatalf("secret leaked in redacted output:\n%s", out)
	}
	if !strings.Contains(out, "database: docstore") {
		t.Fatalf("non-secret values must stay visible:\n%s", out)
	}
}

func TestLoadWithSecrets_EmptyEnvIsError(t *testing.T) {
	t.Setenv("DOCSTORE_SECRETS_FILE", " ")
	if _, _, err := NewViperLoader("", "DOCSTORE").LoadWithSecrets(); err == nil {
		t.Fatal("expected error for empty secrets file variable")
	}
}

// Property: any valid page size bounds pair loaded from the environment survives validation unchanged.
func TestProperty_PaginationEnvRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("page sizes from env are honored", prop.ForAll(
		func(def, extra int) bool {
			os.Setenv("DOCSTORE_PAGINATION_DEFAULT_PAGE_SIZE", strconv.Itoa(def))
			os.Setenv("DOCSTORE_PAGINATION_MAX_PAGE_SIZE", strconv.Itoa(def+extra))
			defer os.Unsetenv("DOCSTORE_PAGINATION_DEFAULT_PAGE_SIZE")
			defer os.Unsetenv("DOCSTORE_PAGINATION_MAX_PAGE_SIZE")

			cfg, err := NewViperLoader("", "DOCSTORE").Load()
			if err != nil {
				t.Logf("load failed: %v", err)
				return false
			}
			return cfg.Pagination.DefaultPageSize == def && cfg.Pagination.MaxPageSize == def+extra
		},
		gen.IntRange(1, 500),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
