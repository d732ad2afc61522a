// Package bootstrap assembles the gateway from environment configuration:
// logger, telemetry, connection hubs, the transaction service, the HTTP
// router and the server lifecycle.
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/mysverse/worker-bank/internal/bank"
	"github.com/mysverse/worker-bank/internal/datastore"
	"github.com/mysverse/worker-bank/internal/notify"
	"github.com/mysverse/worker-bank/pkg/commons"
)

// ErrInvalidConfig wraps every problem LoadConfig found with the environment.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config carries every runtime setting the gateway reads. Each field names
// the environment variable it comes from.
type Config struct {
	// Identity and logging.
	ServiceName    string // SERVICE_NAME
	ServiceVersion string // VERSION
	EnvName        string // ENV_NAME (production, staging, development, local)
	LogLevel       string // LOG_LEVEL (empty lets the environment profile decide)

	// HTTP server.
	ServerAddress string // SERVER_ADDRESS
	APIKey        string // API_KEY, required

	// Balance datastore.
	DatastoreBaseURL string        // DATASTORE_BASE_URL, required
	DatastoreAPIKey  string        // DATASTORE_API_KEY
	DatastoreTimeout time.Duration // DATASTORE_TIMEOUT

	// Audit database. The replica DSN falls back to the primary for
	// single-node deployments.
	PrimaryDBConnection string // DB_PRIMARY_DSN, required
	ReplicaDBConnection string // DB_REPLICA_DSN
	PrimaryDBName       string // DB_NAME
	MigrationsPath      string // DB_MIGRATIONS_PATH (empty means ./migrations)

	// Notifications. An empty RabbitURI disables publishing entirely.
	RabbitURI        string        // RABBITMQ_URI
	RabbitHealthURL  string        // RABBITMQ_HEALTH_URL
	RabbitUser       string        // RABBITMQ_USER
	RabbitPass       string        // RABBITMQ_PASS
	NotifyExchange   string        // NOTIFY_EXCHANGE
	NotifyRoutingKey string        // NOTIFY_ROUTING_KEY
	NotifyTimeout    time.Duration // NOTIFY_TIMEOUT

	// Rate limiting. A zero max disables the limiter; a positive max needs
	// the Redis address for shared counters.
	RateLimitMax        int           // RATE_LIMIT_MAX
	RateLimitExpiration time.Duration // RATE_LIMIT_EXPIRATION
	RedisAddress        string        // REDIS_ADDRESS
	RedisUser           string        // REDIS_USER
	RedisPassword       string        // REDIS_PASSWORD
	RedisDB             int           // REDIS_DB

	// Telemetry.
	EnableTelemetry      bool   // ENABLE_TELEMETRY
	OtelExporterEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT
}

// LoadConfig reads the gateway configuration from the environment. Every
// problem is reported together, not just the first one found.
func LoadConfig() (*Config, error) {
	config := &Config{
		ServiceName:    commons.GetenvOrDefault("SERVICE_NAME", "worker-bank"),
		ServiceVersion: commons.GetenvOrDefault("VERSION", "0.0.0"),
		EnvName:        commons.GetenvOrDefault("ENV_NAME", "production"),
		LogLevel:       commons.GetenvOrDefault("LOG_LEVEL", ""),

		ServerAddress: commons.GetenvOrDefault("SERVER_ADDRESS", ":3000"),
		APIKey:        commons.GetenvOrDefault("API_KEY", ""),

		DatastoreBaseURL: commons.GetenvOrDefault("DATASTORE_BASE_URL", ""),
		DatastoreAPIKey:  commons.GetenvOrDefault("DATASTORE_API_KEY", ""),
		DatastoreTimeout: commons.GetenvDurationOrDefault("DATASTORE_TIMEOUT", datastore.DefaultRequestTimeout),

		PrimaryDBConnection: commons.GetenvOrDefault("DB_PRIMARY_DSN", ""),
		ReplicaDBConnection: commons.GetenvOrDefault("DB_REPLICA_DSN", ""),
		PrimaryDBName:       commons.GetenvOrDefault("DB_NAME", "bank"),
		MigrationsPath:      commons.GetenvOrDefault("DB_MIGRATIONS_PATH", ""),

		RabbitURI:        commons.GetenvOrDefault("RABBITMQ_URI", ""),
		RabbitHealthURL:  commons.GetenvOrDefault("RABBITMQ_HEALTH_URL", ""),
		RabbitUser:       commons.GetenvOrDefault("RABBITMQ_USER", ""),
		RabbitPass:       commons.GetenvOrDefault("RABBITMQ_PASS", ""),
		NotifyExchange:   commons.GetenvOrDefault("NOTIFY_EXCHANGE", notify.DefaultExchange),
		NotifyRoutingKey: commons.GetenvOrDefault("NOTIFY_ROUTING_KEY", notify.DefaultRoutingKey),
		NotifyTimeout:    commons.GetenvDurationOrDefault("NOTIFY_TIMEOUT", bank.DefaultNotifyTimeout),

		RateLimitMax:        commons.GetenvIntOrDefault("RATE_LIMIT_MAX", 0),
		RateLimitExpiration: commons.GetenvDurationOrDefault("RATE_LIMIT_EXPIRATION", time.Minute),
		RedisAddress:        commons.GetenvOrDefault("REDIS_ADDRESS", ""),
		RedisUser:           commons.GetenvOrDefault("REDIS_USER", ""),
		RedisPassword:       commons.GetenvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:             commons.GetenvIntOrDefault("REDIS_DB", 0),

		EnableTelemetry:      commons.GetenvBoolOrDefault("ENABLE_TELEMETRY", false),
		OtelExporterEndpoint: commons.GetenvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if config.ReplicaDBConnection == "" {
		config.ReplicaDBConnection = config.PrimaryDBConnection
	}

	var problems []error

	if config.APIKey == "" {
		problems = append(problems, errors.New("API_KEY is required"))
	}

	if config.DatastoreBaseURL == "" {
		problems = append(problems, errors.New("DATASTORE_BASE_URL is required"))
	}

	if config.PrimaryDBConnection == "" {
		problems = append(problems, errors.New("DB_PRIMARY_DSN is required"))
	}

	if config.RateLimitMax > 0 && config.RedisAddress == "" {
		problems = append(problems, errors.New("REDIS_ADDRESS is required when RATE_LIMIT_MAX is set"))
	}

	if config.EnableTelemetry && config.OtelExporterEndpoint == "" {
		problems = append(problems, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when ENABLE_TELEMETRY is set"))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}

	return config, nil
}
