package config

import "time"

// Store type constants
const (
	// StoreTypeMemory keeps documents in process
	StoreTypeMemory = "memory"
	// StoreTypeMongoDB represents MongoDB
	StoreTypeMongoDB = "mongodb"
	// StoreTypeDynamoDB represents AWS DynamoDB
	StoreTypeDynamoDB = "dynamodb"
)

// Change notification bus constants
const (
	// BusTypeInMemory delivers change notifications inside one process
	BusTypeInMemory = "inmemory"
	// BusTypeRedis fans change notifications out through Redis pub/sub
	BusTypeRedis = "redis"
	// BusTypeKafka publishes change notifications to a Kafka topic
	BusTypeKafka = "kafka"
	// BusTypeRabbitMQ publishes change notifications to a RabbitMQ topic exchange
	BusTypeRabbitMQ = "rabbitmq"
	// BusTypeSQS publishes change notifications to one SQS queue
	BusTypeSQS = "sqs"
)

// Config is the root configuration structure for docstore
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Management ManagementConfig `mapstructure:"management"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects and configures the document store adapter.
type StoreConfig struct {
	Type     string         `mapstructure:"type"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

// MongoDBConfig configures the MongoDB adapter.
type MongoDBConfig struct {
	URL              string        `mapstructure:"url"`
	Database         string        `mapstructure:"database"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	// ChangeStreams requires a replica set or sharded cluster.
	ChangeStreams bool `mapstructure:"change_streams"`
}

// DynamoDBConfig configures the DynamoDB adapter.
type DynamoDBConfig struct {
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	TablePrefix      string        `mapstructure:"table_prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// RealtimeConfig configures live subscriptions.
type RealtimeConfig struct {
	Bus    string       `mapstructure:"bus"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Broker BrokerConfig `mapstructure:"broker"`
	// ClientBuffer is the snapshot buffer of each subscriber channel.
	ClientBuffer int `mapstructure:"client_buffer"`
	// RefreshRate bounds re-queries per listener per second; zero disables coalescing.
	RefreshRate  float64 `mapstructure:"refresh_rate"`
	RefreshBurst int     `mapstructure:"refresh_burst"`
}

// RedisConfig configures the Redis change notification bus.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	Channel          string        `mapstructure:"channel"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// BrokerConfig configures the message broker buses (kafka, rabbitmq, sqs).
type BrokerConfig struct {
	// Topic carries the change signals of every collection.
	Topic            string         `mapstructure:"topic"`
	OperationTimeout time.Duration  `mapstructure:"operation_timeout"`
	Kafka            KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ         RabbitMQConfig `mapstructure:"rabbitmq"`
	SQS              SQSConfig      `mapstructure:"sqs"`
}

// KafkaConfig configures the Kafka bus.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	// GroupID defaults to a group unique to each process.
	GroupID string `mapstructure:"group_id"`
}

// RabbitMQConfig configures the RabbitMQ bus.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// SQSConfig configures the SQS bus.
type SQSConfig struct {
	Region            string `mapstructure:"region"`
	QueueURL          string `mapstructure:"queue_url"`
	Endpoint          string `mapstructure:"endpoint"`
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	SessionToken      string `mapstructure:"session_token"`
	WaitTimeSeconds   int32  `mapstructure:"wait_time_seconds"`
	MaxMessages       int32  `mapstructure:"max_messages"`
	VisibilityTimeout int32  `mapstructure:"visibility_timeout"`
}

// PaginationConfig bounds page sizes requested through the CLI and consumers.
type PaginationConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// BreakerConfig configures the circuit breaker guarding store calls.
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// ManagementConfig configures the management server
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "docstore",
			Environment: "development",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Type: StoreTypeMemory,
			MongoDB: MongoDBConfig{
				Database:         "docstore",
				ConnectTimeout:   10 * time.Second,
				OperationTimeout: 5 * time.Second,
			},
			DynamoDB: DynamoDBConfig{
				OperationTimeout: 5 * time.Second,
			},
		},
		Realtime: RealtimeConfig{
			Bus: BusTypeInMemory,
			Redis: RedisConfig{
				Channel:          "docstore:changes",
				MaxConns:         10,
				OperationTimeout: 5 * time.Second,
			},
			Broker: BrokerConfig{
				Topic:            "docstore-changes",
				OperationTimeout: 5 * time.Second,
				RabbitMQ:         RabbitMQConfig{Exchange: "docstore"},
				SQS:              SQSConfig{WaitTimeSeconds: 10, MaxMessages: 10},
			},
			ClientBuffer: 1,
			RefreshRate:  10,
			RefreshBurst: 1,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 20,
			MaxPageSize:     200,
		},
		Breaker: BreakerConfig{
			Enabled:      false,
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Management: ManagementConfig{
			Enabled:      false,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 0.1,
		},
	}
}
