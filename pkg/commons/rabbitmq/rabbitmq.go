// Package rabbitmq manages the AMQP connection and channel used by the
// notification publisher, with reconnect rate limiting and a management API
// health check.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mysverse/worker-bank/pkg/commons/backoff"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultHealthCheckTimeout = 5 * time.Second

// reconnectBackoffCap is the maximum delay between reconnect attempts.
const reconnectBackoffCap = 30 * time.Second

// ErrNilConnection is returned when a method is called on a nil receiver.
var ErrNilConnection = errors.New("rabbitmq connection is nil")

var connectionFailuresMetric = metrics.Metric{
	Name:        "rabbitmq_connection_failures_total",
	Unit:        "1",
	Description: "Total number of rabbitmq connection failures",
}

// RabbitMQConnection is a hub which deals with rabbitmq connections.
type RabbitMQConnection struct {
	mu                     sync.Mutex
	ConnectionStringSource string `json:"-"`
	HealthCheckURL         string
	User                   string `json:"-"`
	Pass                   string `json:"-"`
	Connection             *amqp.Connection
	Channel                *amqp.Channel
	Logger                 log.Logger
	MetricsFactory         *metrics.MetricsFactory
	Connected              bool

	dialFn       func(string) (*amqp.Connection, error)
	channelFn    func(*amqp.Connection) (*amqp.Channel, error)
	connClosedFn func(*amqp.Connection) bool
	chClosedFn   func(*amqp.Channel) bool
	connCloseFn  func(*amqp.Connection) error
	chCloseFn    func(*amqp.Channel) error
	healthClient *http.Client

	// Reconnect rate limiting prevents reconnect storms when the broker
	// is down.
	lastReconnectAttempt time.Time
	reconnectAttempts    int
}

func (rc *RabbitMQConnection) applyDefaults() {
	if rc.dialFn == nil {
		rc.dialFn = amqp.Dial
	}

	if rc.channelFn == nil {
		rc.channelFn = func(conn *amqp.Connection) (*amqp.Channel, error) {
			if conn == nil {
				return nil, errors.New("cannot create channel: connection is nil")
			}

			return conn.Channel()
		}
	}

	if rc.connClosedFn == nil {
		rc.connClosedFn = func(conn *amqp.Connection) bool {
			return conn == nil || conn.IsClosed()
		}
	}

	if rc.chClosedFn == nil {
		rc.chClosedFn = func(ch *amqp.Channel) bool {
			return ch == nil || ch.IsClosed()
		}
	}

	if rc.connCloseFn == nil {
		rc.connCloseFn = func(conn *amqp.Connection) error {
			if conn == nil || conn.IsClosed() {
				return nil
			}

			return conn.Close()
		}
	}

	if rc.chCloseFn == nil {
		rc.chCloseFn = func(ch *amqp.Channel) error {
			if ch == nil || ch.IsClosed() {
				return nil
			}

			return ch.Close()
		}
	}

	if rc.healthClient == nil {
		rc.healthClient = &http.Client{Timeout: defaultHealthCheckTimeout}
	}
}

// Connect keeps a singleton connection with rabbitmq.
func (rc *RabbitMQConnection) Connect(ctx context.Context) error {
	if rc == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}

	rc.mu.Lock()
	rc.applyDefaults()
	connStr := rc.ConnectionStringSource
	healthURL := rc.HealthCheckURL
	user := rc.User
	pass := rc.Pass
	client := rc.healthClient
	dial := rc.dialFn
	openChannel := rc.channelFn
	closeConn := rc.connCloseFn
	logger := rc.logger()
	rc.mu.Unlock()

	logger.Log(ctx, log.LevelInfo, "connecting to rabbitmq")

	conn, err := dial(connStr)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to connect to rabbitmq",
			log.String("error_detail", sanitizeAMQPErr(err, connStr)))
		rc.recordConnectionFailure(ctx, "connect")

		return fmt.Errorf("failed to connect to rabbitmq: %s", sanitizeAMQPErr(err, connStr))
	}

	ch, err := openChannel(conn)
	if err != nil {
		rc.closeQuietly(conn, closeConn, logger)

		logger.Log(ctx, log.LevelError, "failed to open channel on rabbitmq", log.Err(err))

		return fmt.Errorf("failed to open channel on rabbitmq: %w", err)
	}

	if !rc.healthCheck(ctx, healthURL, user, pass, client, logger) {
		rc.closeQuietly(conn, closeConn, logger)

		logger.Log(ctx, log.LevelError, "rabbitmq health check failed")

		return errors.New("rabbitmq health check failed")
	}

	logger.Log(ctx, log.LevelInfo, "connected to rabbitmq")

	rc.mu.Lock()
	rc.Connected = true
	rc.Connection = conn
	rc.Channel = ch
	rc.reconnectAttempts = 0
	rc.mu.Unlock()

	return nil
}

// EnsureChannel reopens the connection or channel when either has dropped.
// Reconnect attempts are rate limited with exponential backoff.
func (rc *RabbitMQConnection) EnsureChannel(ctx context.Context) error {
	if rc == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq ensure channel: %w", err)
	}

	rc.mu.Lock()
	rc.applyDefaults()

	needConnection := rc.Connection == nil || rc.connClosedFn(rc.Connection)
	needChannel := needConnection || rc.Channel == nil || rc.chClosedFn(rc.Channel)

	if !needChannel {
		rc.mu.Unlock()
		return nil
	}

	if needConnection && rc.reconnectAttempts > 0 {
		delay := backoff.ExponentialWithJitter(500*time.Millisecond, rc.reconnectAttempts)
		if delay > reconnectBackoffCap {
			delay = reconnectBackoffCap
		}

		if elapsed := time.Since(rc.lastReconnectAttempt); elapsed < delay {
			rc.mu.Unlock()
			return fmt.Errorf("rabbitmq ensure channel: rate limited (next attempt in %s)", delay-elapsed)
		}
	}

	connStr := rc.ConnectionStringSource
	dial := rc.dialFn
	openChannel := rc.channelFn
	closeConn := rc.connCloseFn
	existingConn := rc.Connection
	logger := rc.logger()

	if needConnection {
		rc.lastReconnectAttempt = time.Now()
	}
	rc.mu.Unlock()

	conn := existingConn
	newConnection := false

	if needConnection {
		var err error

		conn, err = dial(connStr)
		if err != nil {
			logger.Log(ctx, log.LevelError, "failed to reconnect to rabbitmq",
				log.String("error_detail", sanitizeAMQPErr(err, connStr)))
			rc.recordConnectionFailure(ctx, "ensure_channel_connect")

			rc.mu.Lock()
			rc.Connected = false
			rc.reconnectAttempts++
			rc.mu.Unlock()

			return fmt.Errorf("can't connect to rabbitmq: %s", sanitizeAMQPErr(err, connStr))
		}

		newConnection = true
	}

	ch, err := openChannel(conn)
	if err == nil && ch == nil {
		err = errors.New("channel factory returned nil channel")
	}

	if err != nil {
		if newConnection {
			rc.closeQuietly(conn, closeConn, logger)
		}

		rc.recordConnectionFailure(ctx, "ensure_channel")

		rc.mu.Lock()
		rc.Channel = nil
		rc.Connected = false
		rc.mu.Unlock()

		logger.Log(ctx, log.LevelError, "failed to open channel on rabbitmq", log.Err(err))

		return fmt.Errorf("rabbitmq ensure channel: %w", err)
	}

	rc.mu.Lock()
	if newConnection {
		rc.Connection = conn
		rc.reconnectAttempts = 0
	}

	rc.Channel = ch
	rc.Connected = true
	rc.mu.Unlock()

	return nil
}

// GetChannel returns an open channel, reconnecting if necessary.
func (rc *RabbitMQConnection) GetChannel(ctx context.Context) (*amqp.Channel, error) {
	if rc == nil {
		return nil, ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.applyDefaults()

	if rc.Connected && rc.Channel != nil && !rc.chClosedFn(rc.Channel) {
		ch := rc.Channel
		rc.mu.Unlock()

		return ch, nil
	}
	rc.mu.Unlock()

	if err := rc.EnsureChannel(ctx); err != nil {
		return nil, err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.Channel == nil {
		rc.Connected = false

		return nil, errors.New("rabbitmq channel not available")
	}

	return rc.Channel, nil
}

// HealthCheck probes the management API alarms endpoint.
func (rc *RabbitMQConnection) HealthCheck(ctx context.Context) (bool, error) {
	if rc == nil {
		return false, ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rc.mu.Lock()
	rc.applyDefaults()
	healthURL := rc.HealthCheckURL
	user := rc.User
	pass := rc.Pass
	client := rc.healthClient
	logger := rc.logger()
	rc.mu.Unlock()

	if !rc.healthCheck(ctx, healthURL, user, pass, client, logger) {
		return false, errors.New("rabbitmq health check failed")
	}

	return true, nil
}

// healthCheck operates on pre-captured config values, safe to call without
// holding the mutex.
func (rc *RabbitMQConnection) healthCheck(ctx context.Context, rawHealthURL, user, pass string, client *http.Client, logger log.Logger) bool {
	if err := ctx.Err(); err != nil {
		logger.Log(ctx, log.LevelError, "context canceled during rabbitmq health check", log.Err(err))

		return false
	}

	healthURL, err := validateHealthCheckURL(rawHealthURL)
	if err != nil {
		logger.Log(ctx, log.LevelError, "invalid rabbitmq health check URL", log.Err(err))

		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create rabbitmq health check request", log.Err(err))

		return false
	}

	req.SetBasicAuth(user, pass)

	resp, err := client.Do(req)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to execute rabbitmq health check request", log.Err(err))

		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Log(ctx, log.LevelError, "rabbitmq health check failed", log.String("status", resp.Status))

		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to read rabbitmq health check response", log.Err(err))

		return false
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		logger.Log(ctx, log.LevelError, "failed to parse rabbitmq health check response", log.Err(err))

		return false
	}

	if status, ok := result["status"].(string); ok && status == "ok" {
		return true
	}

	logger.Log(ctx, log.LevelError, "rabbitmq is not healthy")

	return false
}

// Close closes the rabbitmq channel and connection.
func (rc *RabbitMQConnection) Close(ctx context.Context) error {
	if rc == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rc.mu.Lock()
	rc.applyDefaults()
	channel := rc.Channel
	connection := rc.Connection
	closeCh := rc.chCloseFn
	closeConn := rc.connCloseFn
	rc.Connection = nil
	rc.Channel = nil
	rc.Connected = false
	logger := rc.logger()
	rc.mu.Unlock()

	var closeErr error

	if err := closeCh(channel); err != nil {
		closeErr = fmt.Errorf("failed to close rabbitmq channel: %w", err)
		logger.Log(ctx, log.LevelWarn, "failed to close rabbitmq channel", log.Err(err))
	}

	if err := closeConn(connection); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("failed to close rabbitmq connection: %w", err))
		logger.Log(ctx, log.LevelWarn, "failed to close rabbitmq connection", log.Err(err))
	}

	return closeErr
}

func (rc *RabbitMQConnection) closeQuietly(conn *amqp.Connection, closer func(*amqp.Connection) error, logger log.Logger) {
	if closer == nil {
		return
	}

	if err := closer(conn); err != nil {
		logger.Log(context.Background(), log.LevelWarn, "failed to close rabbitmq connection during cleanup", log.Err(err))
	}
}

func (rc *RabbitMQConnection) logger() log.Logger {
	if rc == nil || rc.Logger == nil {
		return &log.NopLogger{}
	}

	return rc.Logger
}

// recordConnectionFailure increments the connection failure counter. No-op
// when MetricsFactory is nil.
func (rc *RabbitMQConnection) recordConnectionFailure(ctx context.Context, operation string) {
	if rc == nil || rc.MetricsFactory == nil {
		return
	}

	counter, err := rc.MetricsFactory.Counter(connectionFailuresMetric)
	if err != nil {
		rc.logger().Log(ctx, log.LevelWarn, "failed to create rabbitmq metric counter", log.Err(err))
		return
	}

	if err := counter.WithLabels(map[string]string{"operation": operation}).AddOne(ctx); err != nil {
		rc.logger().Log(ctx, log.LevelWarn, "failed to record rabbitmq metric", log.Err(err))
	}
}

// validateHealthCheckURL normalizes the management API base URL and appends
// the alarms health endpoint unless already present.
func validateHealthCheckURL(rawURL string) (string, error) {
	healthURL := strings.TrimSpace(rawURL)
	if healthURL == "" {
		return "", errors.New("rabbitmq health check URL is empty")
	}

	parsedURL, err := url.Parse(healthURL)
	if err != nil {
		return "", err
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", errors.New("rabbitmq health check URL must use http or https")
	}

	if parsedURL.Host == "" {
		return "", errors.New("rabbitmq health check URL must include a host")
	}

	if parsedURL.User != nil {
		return "", errors.New("rabbitmq health check URL must not include user credentials")
	}

	const healthPath = "/api/health/checks/alarms"

	normalized := strings.TrimSuffix(parsedURL.String(), "/")
	if strings.HasSuffix(normalized, healthPath) {
		return normalized, nil
	}

	return normalized + healthPath, nil
}

func sanitizeAMQPErr(err error, connectionString string) string {
	if err == nil {
		return ""
	}

	if connectionString == "" {
		return err.Error()
	}

	referenceURL, parseErr := url.Parse(connectionString)
	if parseErr != nil {
		return err.Error()
	}

	redactedURL := referenceURL.Redacted()

	errMsg := strings.ReplaceAll(err.Error(), connectionString, redactedURL)
	errMsg = strings.ReplaceAll(errMsg, referenceURL.String(), redactedURL)

	// The error may contain the password in decoded form.
	if referenceURL.User != nil {
		if pass, ok := referenceURL.User.Password(); ok && pass != "" {
			errMsg = strings.ReplaceAll(errMsg, pass, "xxxxx")
		}
	}

	return errMsg
}

// BuildConnectionString constructs an AMQP connection string. An empty vhost
// means the default vhost "/". Special characters are URL-encoded.
func BuildConnectionString(protocol, user, pass, host, port, vhost string) string {
	u := &url.URL{Scheme: protocol}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}

	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		// Bracket bare IPv6 addresses to avoid malformed URLs.
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	if vhost != "" {
		// RabbitMQ vhost names may contain '/', which must be encoded as %2F.
		escapedVHost := url.QueryEscape(vhost)
		escapedVHost = strings.ReplaceAll(escapedVHost, "+", "%20")
		u.Path = "/" + vhost
		u.RawPath = "/" + escapedVHost
	}

	return u.String()
}
