//go:build unit

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/mysverse/worker-bank/pkg/commons"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTelemetry() *opentelemetry.Telemetry {
	// No metrics factory so the background collector stays off in tests.
	return &opentelemetry.Telemetry{
		TelemetryConfig: opentelemetry.TelemetryConfig{
			LibraryName: "worker-bank-test",
			ServiceName: "worker-bank-test",
		},
	}
}

func TestWithTelemetry_SetsRequestIDAndTracer(t *testing.T) {
	t.Parallel()

	middleware := NewTelemetryMiddleware(newTestTelemetry())

	var (
		seenID     string
		seenTracer bool
	)

	app := fiber.New()
	app.Use(middleware.WithTelemetry())
	app.Get("/v1/users/:userId/balance", func(c *fiber.Ctx) error {
		_, tracer, id, _ := commons.NewTrackingFromContext(c.UserContext())
		seenID = id
		seenTracer = tracer != nil

		return c.SendStatus(http.StatusOK)
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/users/worker-77/balance", nil))
	require.NoError(t, err)

	defer func() { require.NoError(t, res.Body.Close()) }()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, seenID)
	assert.True(t, seenTracer)
	assert.Equal(t, seenID, res.Header.Get(constant.HeaderID))
}

func TestWithTelemetry_SkipsExcludedRoutes(t *testing.T) {
	t.Parallel()

	middleware := NewTelemetryMiddleware(newTestTelemetry())

	app := fiber.New()
	app.Use(middleware.WithTelemetry("/health"))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { require.NoError(t, res.Body.Close()) }()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Header.Get(constant.HeaderID))
}

func TestEndTracingSpans_PassesHandlerResultThrough(t *testing.T) {
	t.Parallel()

	middleware := NewTelemetryMiddleware(newTestTelemetry())

	app := fiber.New()
	app.Use(middleware.EndTracingSpans)
	app.Get("/v1/t", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusTeapot)
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/t", nil))
	require.NoError(t, err)

	defer func() { require.NoError(t, res.Body.Close()) }()

	assert.Equal(t, http.StatusTeapot, res.StatusCode)
}
