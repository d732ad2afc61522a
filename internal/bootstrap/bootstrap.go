package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/mysverse/worker-bank/internal/api"
	"github.com/mysverse/worker-bank/internal/bank"
	"github.com/mysverse/worker-bank/internal/datastore"
	"github.com/mysverse/worker-bank/internal/ledger"
	"github.com/mysverse/worker-bank/internal/notify"
	"github.com/mysverse/worker-bank/pkg/commons"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	libHTTP "github.com/mysverse/worker-bank/pkg/commons/net/http"
	"github.com/mysverse/worker-bank/pkg/commons/net/http/ratelimit"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
	"github.com/mysverse/worker-bank/pkg/commons/postgres"
	"github.com/mysverse/worker-bank/pkg/commons/rabbitmq"
	libRedis "github.com/mysverse/worker-bank/pkg/commons/redis"
	"github.com/mysverse/worker-bank/pkg/commons/server"
	libZap "github.com/mysverse/worker-bank/pkg/commons/zap"
)

// startupTimeout bounds the eager infrastructure work done during assembly,
// which includes running database migrations.
const startupTimeout = 30 * time.Second

// Service is the runnable gateway: everything assembled and ready to serve.
type Service struct {
	Logger  log.Logger
	manager *server.ServerManager
}

// Run implements commons.App. It starts the HTTP server and blocks until
// graceful shutdown completes.
func (s *Service) Run(_ *commons.Launcher) error {
	return s.manager.StartWithGracefulShutdownWithError()
}

// NewService assembles the gateway from config. Postgres connects eagerly so
// migrations run before the server accepts traffic; the broker and redis
// connect lazily on first use since both serve optional paths.
func NewService(config *Config) (*Service, error) {
	logger, _, err := libZap.New(libZap.Config{
		Environment:     libZap.Environment(config.EnvName),
		Level:           config.LogLevel,
		OTelLibraryName: config.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	telemetry, err := opentelemetry.InitializeTelemetryWithError(&opentelemetry.TelemetryConfig{
		LibraryName:               config.ServiceName,
		ServiceName:               config.ServiceName,
		ServiceVersion:            config.ServiceVersion,
		DeploymentEnv:             config.EnvName,
		CollectorExporterEndpoint: config.OtelExporterEndpoint,
		EnableTelemetry:           config.EnableTelemetry,
		Logger:                    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	postgresConnection := &postgres.PostgresConnection{
		ConnectionStringPrimary: config.PrimaryDBConnection,
		ConnectionStringReplica: config.ReplicaDBConnection,
		PrimaryDBName:           config.PrimaryDBName,
		MigrationsPath:          config.MigrationsPath,
		Logger:                  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if err := postgresConnection.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}

	ledgerRepository, err := ledger.NewRepository(postgresConnection)
	if err != nil {
		return nil, fmt.Errorf("build ledger repository: %w", err)
	}

	storeClient, err := datastore.New(datastore.Config{
		BaseURL:        config.DatastoreBaseURL,
		APIKey:         config.DatastoreAPIKey,
		RequestTimeout: config.DatastoreTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build balance store client: %w", err)
	}

	var notifier bank.Notifier

	var rabbitConnection *rabbitmq.RabbitMQConnection

	if config.RabbitURI != "" {
		rabbitConnection = &rabbitmq.RabbitMQConnection{
			ConnectionStringSource: config.RabbitURI,
			HealthCheckURL:         config.RabbitHealthURL,
			User:                   config.RabbitUser,
			Pass:                   config.RabbitPass,
			Logger:                 logger,
			MetricsFactory:         telemetry.MetricsFactory,
		}

		publisher, err := notify.New(rabbitConnection, notify.Config{
			Exchange:   config.NotifyExchange,
			RoutingKey: config.NotifyRoutingKey,
		})
		if err != nil {
			return nil, fmt.Errorf("build notifier: %w", err)
		}

		notifier = publisher
	} else {
		logger.Log(ctx, log.LevelWarn, "notifications disabled, RABBITMQ_URI not set")
	}

	transactionService := bank.NewService(storeClient, ledgerRepository, notifier).
		WithNotifyTimeout(config.NotifyTimeout)

	var rateLimit *api.RateLimitConfig

	var redisConnection *libRedis.RedisConnection

	if config.RateLimitMax > 0 {
		redisConnection = &libRedis.RedisConnection{
			Addr:     config.RedisAddress,
			User:     config.RedisUser,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
			Logger:   logger,
		}

		rateLimit = &api.RateLimitConfig{
			Max:        config.RateLimitMax,
			Expiration: config.RateLimitExpiration,
			Storage:    ratelimit.NewRedisStorage(redisConnection),
		}
	}

	app := api.NewRouter(api.RouterConfig{
		Logger:     logger,
		Telemetry:  telemetry,
		APIKeyFunc: libHTTP.FixedAPIKeyFunc(config.APIKey),
		RateLimit:  rateLimit,
	}, api.NewTransactionHandler(transactionService))

	manager := server.NewServerManager(telemetry, logger).
		WithHTTPServer(app, config.ServerAddress).
		WithCloser("metrics collector", func(context.Context) error {
			libHTTP.StopMetricsCollector()

			return nil
		}).
		WithCloser("postgres", func(context.Context) error {
			return postgresConnection.Close()
		})

	if rabbitConnection != nil {
		manager.WithCloser("rabbitmq", rabbitConnection.Close)
	}

	if redisConnection != nil {
		manager.WithCloser("redis", func(context.Context) error {
			return redisConnection.Close()
		})
	}

	return &Service{Logger: logger, manager: manager}, nil
}
