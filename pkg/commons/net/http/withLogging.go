package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mysverse/worker-bank/pkg/commons"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
	"github.com/mysverse/worker-bank/pkg/commons/log"
)

// RequestInfo stores http access log data for a single request.
type RequestInfo struct {
	Method        string
	URI           string
	Referer       string
	RemoteAddress string
	Status        int
	Date          time.Time
	Duration      time.Duration
	UserAgent     string
	RequestID     string
	Protocol      string
	Size          int
}

// NewRequestInfo captures the request-side fields of an access log entry.
// Bodies are never captured; transaction payloads carry account identifiers
// that do not belong in logs.
func NewRequestInfo(c *fiber.Ctx) *RequestInfo {
	referer := "-"
	if c.Get("Referer") != "" {
		referer = c.Get("Referer")
	}

	return &RequestInfo{
		RequestID:     c.Get(constant.HeaderID),
		Method:        c.Method(),
		URI:           c.OriginalURL(),
		Referer:       referer,
		UserAgent:     c.Get(constant.HeaderUserAgent),
		RemoteAddress: c.IP(),
		Protocol:      c.Protocol(),
		Date:          time.Now().UTC(),
	}
}

// CLFString produces a log entry similar to the Common Log Format (CLF).
// Ref: https://httpd.apache.org/docs/trunk/logs.html#common
func (r *RequestInfo) CLFString() string {
	return strings.Join([]string{
		r.RemoteAddress,
		"-",
		"-",
		r.Protocol,
		r.Date.Format("[02/Jan/2006:15:04:05 -0700]"),
		`"` + r.Method + " " + r.URI + `"`,
		strconv.Itoa(r.Status),
		strconv.Itoa(r.Size),
		r.Referer,
		r.UserAgent,
	}, " ")
}

// String implements fmt.Stringer using CLFString.
func (r *RequestInfo) String() string {
	return r.CLFString()
}

// FinishRequestInfo stamps the response-side fields once the handler chain
// returned.
func (r *RequestInfo) FinishRequestInfo(statusCode, size int) {
	r.Duration = time.Now().UTC().Sub(r.Date)
	r.Status = statusCode
	r.Size = size
}

type logMiddleware struct {
	Logger log.Logger
}

// LogMiddlewareOption configures the access log middleware.
type LogMiddlewareOption func(l *logMiddleware)

// WithCustomLogger sets the logger used for access log entries.
func WithCustomLogger(logger log.Logger) LogMiddlewareOption {
	return func(l *logMiddleware) {
		if logger != nil {
			l.Logger = logger
		}
	}
}

func buildOpts(opts ...LogMiddlewareOption) *logMiddleware {
	mid := &logMiddleware{
		Logger: &log.NopLogger{},
	}

	for _, opt := range opts {
		opt(mid)
	}

	return mid
}

// WithHTTPLogging logs access to the http server in Common Log Format and
// plants a request-scoped child logger carrying the request id into the
// user context. Health probes are not logged.
func WithHTTPLogging(opts ...LogMiddlewareOption) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}

		setRequestHeaderID(c)

		info := NewRequestInfo(c)

		mid := buildOpts(opts...)
		logger := mid.Logger.With(log.String(constant.HeaderID, info.RequestID))

		ctx := commons.ContextWithLogger(c.UserContext(), logger)
		c.SetUserContext(ctx)

		err := c.Next()

		info.FinishRequestInfo(c.Response().StatusCode(), len(c.Response().Body()))

		logger.Log(c.UserContext(), log.LevelInfo, info.CLFString(),
			log.Int("status", info.Status),
			log.String("duration", info.Duration.String()),
		)

		return err
	}
}

// setRequestHeaderID ensures every request carries a correlation id: an
// inbound X-Request-Id is kept, otherwise a fresh UUID is generated and set
// on both request and response headers. The id also lands in the user
// context for NewTrackingFromContext.
func setRequestHeaderID(c *fiber.Ctx) {
	headerID := c.Get(constant.HeaderID)

	if strings.TrimSpace(headerID) == "" {
		headerID = uuid.New().String()
		c.Request().Header.Set(constant.HeaderID, headerID)
	}

	c.Response().Header.Set(constant.HeaderID, headerID)

	ctx := commons.ContextWithHeaderID(c.UserContext(), headerID)
	c.SetUserContext(ctx)
}
