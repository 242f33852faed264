// Package config provides configuration structures and validation for the bridge binaries.
// It handles environment-based configuration for the HTTP gateway, the settlement
// processor and the operator CLI: databases, messaging, provider credentials and
// workflow timing.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Store drivers accepted by STORE_DRIVER
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during
// application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Mpesa       MpesaConfig
	WhatsApp    WhatsAppConfig
	Chain       ChainConfig
	Workflow    WorkflowConfig
	Reconciler  ReconcilerConfig
	WorkerPool  WorkerPoolConfig
	StoreDriver string
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	PurchaseTopic     string // Purchase requests published by the gateway
	SettlementTopic   string // Provider callbacks relayed by the gateway
	ConsumerGroup     string
	NumPartitions     int // Number of partitions for topics
	ReplicationFactor int // Replication factor for topics
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	HandlerAttempts   int    // Handler attempts per message before it is skipped
	DLQTopic          string // Topic for Dead Letter Queue
}

// BrokerList splits the comma separated KAFKA_BROKERS value
func (k KafkaConfig) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains the token cache connection settings. An empty Addr
// selects the in-process cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// MpesaConfig contains Daraja API credentials and endpoints
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	HTTPTimeout    time.Duration
}

// WhatsAppConfig contains WhatsApp Cloud API settings
type WhatsAppConfig struct {
	GraphBaseURL  string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	HTTPTimeout   time.Duration
}

// ChainConfig contains the EVM JSON-RPC settings for token transfers
type ChainConfig struct {
	RPCURL              string
	PrivateKey          string // Hex encoded, with or without 0x prefix
	GasLimit            uint64
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
}

// WorkflowConfig contains settlement workflow timing and the conversion rate
type WorkflowConfig struct {
	ConversionRate    decimal.Decimal // Tokens per minor currency unit
	PollInterval      time.Duration
	SettlementTimeout time.Duration
	CallTimeout       time.Duration // Bound for each store write, notice or audit append
	TransferTimeout   time.Duration // Bound for one ledger transfer, receipt wait included
}

// ReconcilerConfig contains the periodic reconciliation settings
type ReconcilerConfig struct {
	Interval    time.Duration
	BatchSize   int
	GracePeriod time.Duration
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.BrokerList()) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.PurchaseTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_PURCHASE_TOPIC is required")
	}
	if c.Kafka.SettlementTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_SETTLEMENT_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.HandlerAttempts <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_HANDLER_ATTEMPTS must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate store selection and PostgreSQL config
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.Postgres.URL == "" {
			validationErrors = append(validationErrors, "POSTGRES_URL is required")
		}
		if c.Postgres.MaxConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
		}
		if c.Postgres.MinConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
		}
		if c.Postgres.ConnMaxLifetime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
		}
		if c.Postgres.ConnMaxIdleTime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
		}
	case StoreDriverMemory:
	default:
		validationErrors = append(validationErrors, "STORE_DRIVER must be one of postgres, memory")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}

	// Validate provider endpoints
	if c.Mpesa.BaseURL == "" {
		validationErrors = append(validationErrors, "MPESA_BASE_URL is required")
	}
	if c.Mpesa.ShortCode == "" {
		validationErrors = append(validationErrors, "MPESA_SHORTCODE is required")
	}
	if c.Mpesa.HTTPTimeout <= 0 {
		validationErrors = append(validationErrors, "MPESA_HTTP_TIMEOUT must be greater than 0")
	}
	if c.WhatsApp.GraphBaseURL == "" {
		validationErrors = append(validationErrors, "WHATSAPP_GRAPH_BASE_URL is required")
	}
	if c.Chain.GasLimit == 0 {
		validationErrors = append(validationErrors, "CHAIN_GAS_LIMIT must be greater than 0")
	}
	if c.Chain.ReceiptTimeout <= 0 {
		validationErrors = append(validationErrors, "CHAIN_RECEIPT_TIMEOUT must be greater than 0")
	}

	// Validate Workflow config
	if !c.Workflow.ConversionRate.IsPositive() {
		validationErrors = append(validationErrors, "WORKFLOW_CONVERSION_RATE must be a positive decimal")
	}
	if c.Workflow.PollInterval <= 0 {
		validationErrors = append(validationErrors, "WORKFLOW_POLL_INTERVAL must be greater than 0")
	}
	if c.Workflow.SettlementTimeout <= c.Workflow.PollInterval {
		validationErrors = append(validationErrors, "WORKFLOW_SETTLEMENT_TIMEOUT must be greater than WORKFLOW_POLL_INTERVAL")
	}
	if c.Workflow.CallTimeout <= 0 {
		validationErrors = append(validationErrors, "WORKFLOW_CALL_TIMEOUT must be greater than 0")
	}
	if c.Workflow.TransferTimeout <= c.Chain.ReceiptTimeout {
		validationErrors = append(validationErrors, "WORKFLOW_TRANSFER_TIMEOUT must be greater than CHAIN_RECEIPT_TIMEOUT")
	}

	// Validate Reconciler config
	if c.Reconciler.Interval <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_INTERVAL must be greater than 0")
	}
	if c.Reconciler.BatchSize <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_BATCH_SIZE must be greater than 0")
	}
	if c.Reconciler.GracePeriod < 0 {
		validationErrors = append(validationErrors, "RECONCILER_GRACE_PERIOD must not be negative")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
