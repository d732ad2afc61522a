package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mysverse/worker-bank/pkg/commons"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	libHTTP "github.com/mysverse/worker-bank/pkg/commons/net/http"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
)

// RateLimitConfig bounds request volume on the v1 group. Storage is usually
// the Redis-backed fiber storage so the limit holds across instances.
type RateLimitConfig struct {
	Max        int
	Expiration time.Duration
	Storage    fiber.Storage
}

// RouterConfig carries everything the router mounts. Telemetry and RateLimit
// are optional; APIKeyFunc guards the whole v1 group.
type RouterConfig struct {
	Logger     log.Logger
	Telemetry  *opentelemetry.Telemetry
	APIKeyFunc libHTTP.APIKeyAuthFunc
	RateLimit  *RateLimitConfig
}

// NewRouter builds the fiber app: telemetry and request logging around every
// route, a bare liveness probe, and the authenticated v1 group with an
// optional rate limit in front of the transaction routes.
func NewRouter(config RouterConfig, handler *TransactionHandler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	if config.Telemetry != nil {
		app.Use(libHTTP.NewTelemetryMiddleware(config.Telemetry).WithTelemetry("/health"))
	}

	app.Use(libHTTP.WithHTTPLogging(libHTTP.WithCustomLogger(config.Logger)))

	app.Get("/health", handler.Health)

	v1 := app.Group("/v1", libHTTP.WithAPIKeyAuth(config.APIKeyFunc))

	if config.RateLimit != nil {
		v1.Use(limiter.New(limiter.Config{
			Max:        config.RateLimit.Max,
			Expiration: config.RateLimit.Expiration,
			Storage:    config.RateLimit.Storage,
			LimitReached: func(c *fiber.Ctx) error {
				return libHTTP.WriteError(c, commons.ValidateBusinessError(constant.ErrTooManyRequests, c.Path()))
			},
		}))
	}

	v1.Post("/transactions", handler.CreateTransaction)
	v1.Get("/users/:userId/transactions", handler.ListTransactions)
	v1.Get("/users/:userId/balance", handler.Balance)

	return app
}
