package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
	flags              *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "DOCSTORE")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// WithFlags binds command line overrides. Flags win over every other source
// but only when explicitly set.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	if l == nil {
		return l
	}
	l.flags = flags
	return l
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"store":     "store.type",
	"log-level": "log.level",
	"bus":       "realtime.bus",
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v, err := l.newViper()
	if err != nil {
		return nil, err
	}
	return l.unmarshal(v)
}

func (l *ViperLoader) newViper() (*viper.Viper, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified but couldn't be read
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}
	return v, nil
}

func (l *ViperLoader) unmarshal(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)
	if err := l.bindFlags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	v.BindEnv("log.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("log.format", l.prefixedEnv("LOG_FORMAT"))

	// Store
	v.BindEnv("store.type", l.prefixedEnv("STORE_TYPE"))
	v.BindEnv("store.mongodb.url", l.prefixedEnv("MONGODB_URL"))
	v.BindEnv("store.mongodb.database", l.prefixedEnv("MONGODB_DATABASE"))
	v.BindEnv("store.mongodb.connect_timeout", l.prefixedEnv("MONGODB_CONNECT_TIMEOUT"))
	v.BindEnv("store.mongodb.operation_timeout", l.prefixedEnv("MONGODB_OPERATION_TIMEOUT"))
	v.BindEnv("store.mongodb.change_streams", l.prefixedEnv("MONGODB_CHANGE_STREAMS"))
	v.BindEnv("store.dynamodb.region", l.prefixedEnv("DYNAMODB_REGION"), "AWS_REGION")
	v.BindEnv("store.dynamodb.endpoint", l.prefixedEnv("DYNAMODB_ENDPOINT"))
	v.BindEnv("store.dynamodb.access_key_id", l.prefixedEnv("DYNAMODB_ACCESS_KEY_ID"))
	v.BindEnv("store.dynamodb.secret_access_key", l.prefixedEnv("DYNAMODB_SECRET_ACCESS_KEY"))
	v.BindEnv("store.dynamodb.session_token", l.prefixedEnv("DYNAMODB_SESSION_TOKEN"))
	v.BindEnv("store.dynamodb.table_prefix", l.prefixedEnv("DYNAMODB_TABLE_PREFIX"))
	v.BindEnv("store.dynamodb.operation_timeout", l.prefixedEnv("DYNAMODB_OPERATION_TIMEOUT"))

	// Realtime
	v.BindEnv("realtime.bus", l.prefixedEnv("REALTIME_BUS"))
	v.BindEnv("realtime.redis.url", l.prefixedEnv("REALTIME_REDIS_URL"))
	v.BindEnv("realtime.redis.channel", l.prefixedEnv("REALTIME_REDIS_CHANNEL"))
	v.BindEnv("realtime.redis.max_conns", l.prefixedEnv("REALTIME_REDIS_MAX_CONNS"))
	v.BindEnv("realtime.redis.operation_timeout", l.prefixedEnv("REALTIME_REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("realtime.broker.topic", l.prefixedEnv("REALTIME_BROKER_TOPIC"))
	v.BindEnv("realtime.broker.operation_timeout", l.prefixedEnv("REALTIME_BROKER_OPERATION_TIMEOUT"))
	v.BindEnv("realtime.broker.kafka.brokers", l.prefixedEnv("REALTIME_KAFKA_BROKERS"))
	v.BindEnv("realtime.broker.kafka.group_id", l.prefixedEnv("REALTIME_KAFKA_GROUP_ID"))
	v.BindEnv("realtime.broker.rabbitmq.url", l.prefixedEnv("REALTIME_RABBITMQ_URL"))
	v.BindEnv("realtime.broker.rabbitmq.exchange", l.prefixedEnv("REALTIME_RABBITMQ_EXCHANGE"))
	v.BindEnv("realtime.broker.sqs.region", l.prefixedEnv("REALTIME_SQS_REGION"), "AWS_REGION")
	v.BindEnv("realtime.broker.sqs.queue_url", l.prefixedEnv("REALTIME_SQS_QUEUE_URL"))
	v.BindEnv("realtime.broker.sqs.endpoint", l.prefixedEnv("REALTIME_SQS_ENDPOINT"))
	v.BindEnv("realtime.broker.sqs.access_key_id", l.prefixedEnv("REALTIME_SQS_ACCESS_KEY_ID"))
	v.BindEnv("realtime.broker.sqs.secret_access_key", l.prefixedEnv("REALTIME_SQS_SECRET_ACCESS_KEY"))
	v.BindEnv("realtime.broker.sqs.session_token", l.prefixedEnv("REALTIME_SQS_SESSION_TOKEN"))
	v.BindEnv("realtime.client_buffer", l.prefixedEnv("REALTIME_CLIENT_BUFFER"))
	v.BindEnv("realtime.refresh_rate", l.prefixedEnv("REALTIME_REFRESH_RATE"))
	v.BindEnv("realtime.refresh_burst", l.prefixedEnv("REALTIME_REFRESH_BURST"))

	v.BindEnv("pagination.default_page_size", l.prefixedEnv("PAGINATION_DEFAULT_PAGE_SIZE"))
	v.BindEnv("pagination.max_page_size", l.prefixedEnv("PAGINATION_MAX_PAGE_SIZE"))

	v.BindEnv("breaker.enabled", l.prefixedEnv("BREAKER_ENABLED"))
	v.BindEnv("breaker.max_failures", l.prefixedEnv("BREAKER_MAX_FAILURES"))
	v.BindEnv("breaker.reset_timeout", l.prefixedEnv("BREAKER_RESET_TIMEOUT"))

	// Management
	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))

	v.BindEnv("tracing.enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("tracing.sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "DOCSTORE"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return strings.TrimSpace(fallback)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("store.type", cfg.Store.Type)
	v.SetDefault("store.mongodb.url", cfg.Store.MongoDB.URL)
	v.SetDefault("store.mongodb.database", cfg.Store.MongoDB.Database)
	v.SetDefault("store.mongodb.connect_timeout", cfg.Store.MongoDB.ConnectTimeout)
	v.SetDefault("store.mongodb.operation_timeout", cfg.Store.MongoDB.OperationTimeout)
	v.SetDefault("store.mongodb.change_streams", cfg.Store.MongoDB.ChangeStreams)
	v.SetDefault("store.dynamodb.region", cfg.Store.DynamoDB.Region)
	v.SetDefault("store.dynamodb.endpoint", cfg.Store.DynamoDB.Endpoint)
	v.SetDefault("store.dynamodb.table_prefix", cfg.Store.DynamoDB.TablePrefix)
	v.SetDefault("store.dynamodb.operation_timeout", cfg.Store.DynamoDB.OperationTimeout)

	v.SetDefault("realtime.bus", cfg.Realtime.Bus)
	v.SetDefault("realtime.redis.url", cfg.Realtime.Redis.URL)
	v.SetDefault("realtime.redis.channel", cfg.Realtime.Redis.Channel)
	v.SetDefault("realtime.redis.max_conns", cfg.Realtime.Redis.MaxConns)
	v.SetDefault("realtime.redis.operation_timeout", cfg.Realtime.Redis.OperationTimeout)
	v.SetDefault("realtime.broker.topic", cfg.Realtime.Broker.Topic)
	v.SetDefault("realtime.broker.operation_timeout", cfg.Realtime.Broker.OperationTimeout)
	v.SetDefault("realtime.broker.rabbitmq.exchange", cfg.Realtime.Broker.RabbitMQ.Exchange)
	v.SetDefault("realtime.broker.sqs.wait_time_seconds", cfg.Realtime.Broker.SQS.WaitTimeSeconds)
	v.SetDefault("realtime.broker.sqs.max_messages", cfg.Realtime.Broker.SQS.MaxMessages)
	v.SetDefault("realtime.client_buffer", cfg.Realtime.ClientBuffer)
	v.SetDefault("realtime.refresh_rate", cfg.Realtime.RefreshRate)
	v.SetDefault("realtime.refresh_burst", cfg.Realtime.RefreshBurst)

	v.SetDefault("pagination.default_page_size", cfg.Pagination.DefaultPageSize)
	v.SetDefault("pagination.max_page_size", cfg.Pagination.MaxPageSize)

	v.SetDefault("breaker.enabled", cfg.Breaker.Enabled)
	v.SetDefault("breaker.max_failures", cfg.Breaker.MaxFailures)
	v.SetDefault("breaker.reset_timeout", cfg.Breaker.ResetTimeout)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)
}

// Validate validates the configuration and returns detailed errors
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Store.Type = strings.ToLower(strings.TrimSpace(cfg.Store.Type))
	switch cfg.Store.Type {
	case StoreTypeMemory:
	case StoreTypeMongoDB:
		if cfg.Store.MongoDB.URL == "" {
			errs = append(errs, errors.New("store.mongodb.url is required for MongoDB"))
		}
		if cfg.Store.MongoDB.Database == "" {
			errs = append(errs, errors.New("store.mongodb.database is required for MongoDB"))
		}
	case StoreTypeDynamoDB:
		if cfg.Store.DynamoDB.Region == "" {
			errs = append(errs, errors.New("store.dynamodb.region is required for DynamoDB"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid store.type: %s (must be one of: %v)",
			cfg.Store.Type, []string{StoreTypeMemory, StoreTypeMongoDB, StoreTypeDynamoDB}))
	}

	cfg.Realtime.Bus = strings.ToLower(strings.TrimSpace(cfg.Realtime.Bus))
	switch cfg.Realtime.Bus {
	case BusTypeInMemory:
	case BusTypeRedis:
		if cfg.Realtime.Redis.URL == "" {
			errs = append(errs, errors.New("realtime.redis.url is required when realtime.bus is redis"))
		}
	case BusTypeKafka:
		if len(cfg.Realtime.Broker.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("realtime.broker.kafka.brokers is required when realtime.bus is kafka"))
		}
	case BusTypeRabbitMQ:
		if cfg.Realtime.Broker.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("realtime.broker.rabbitmq.url is required when realtime.bus is rabbitmq"))
		}
	case BusTypeSQS:
		if cfg.Realtime.Broker.SQS.Region == "" {
			errs = append(errs, errors.New("realtime.broker.sqs.region is required when realtime.bus is sqs"))
		}
		if cfg.Realtime.Broker.SQS.QueueURL == "" {
			errs = append(errs, errors.New("realtime.broker.sqs.queue_url is required when realtime.bus is sqs"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid realtime.bus: %s (must be one of: %v)",
			cfg.Realtime.Bus, []string{BusTypeInMemory, BusTypeRedis, BusTypeKafka, BusTypeRabbitMQ, BusTypeSQS}))
	}
	if cfg.Realtime.Bus == BusTypeKafka || cfg.Realtime.Bus == BusTypeRabbitMQ || cfg.Realtime.Bus == BusTypeSQS {
		if strings.TrimSpace(cfg.Realtime.Broker.Topic) == "" {
			errs = append(errs, errors.New("realtime.broker.topic must not be empty"))
		}
	}
	if cfg.Realtime.ClientBuffer < 1 {
		errs = append(errs, errors.New("realtime.client_buffer must be at least 1"))
	}
	if cfg.Realtime.RefreshRate < 0 {
		errs = append(errs, errors.New("realtime.refresh_rate must not be negative"))
	}

	if cfg.Pagination.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("pagination.default_page_size must be positive"))
	}
	if cfg.Pagination.MaxPageSize < cfg.Pagination.DefaultPageSize {
		errs = append(errs, errors.New("pagination.max_page_size must be >= pagination.default_page_size"))
	}

	if cfg.Breaker.Enabled {
		if cfg.Breaker.MaxFailures <= 0 {
			errs = append(errs, errors.New("breaker.max_failures must be positive when breaker is enabled"))
		}
		if cfg.Breaker.ResetTimeout <= 0 {
			errs = append(errs, errors.New("breaker.reset_timeout must be positive when breaker is enabled"))
		}
	}

	if cfg.Management.Enabled && (cfg.Management.Port <= 0 || cfg.Management.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid management.port: %d", cfg.Management.Port))
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			errs = append(errs, errors.New("tracing.sample_rate must be between 0 and 1"))
		}
	}

	return errors.Join(errs...)
}

// lookupNonEmptyEnv reports an environment variable only when it carries a value.
func lookupNonEmptyEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}
