// Package server manages the gateway server lifecycle: startup, signal
// handling and ordered graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
	"github.com/mysverse/worker-bank/pkg/commons/runtime"
)

// ErrNoServersConfigured indicates no servers were configured for the manager.
var ErrNoServersConfigured = errors.New("no servers configured: use WithHTTPServer()")

// namedCloser is a shutdown hook for an external connection (postgres,
// rabbitmq, redis). Closers run after the HTTP server stops accepting work.
type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

// ServerManager handles startup and graceful shutdown of the HTTP server and
// every connection the gateway holds.
type ServerManager struct {
	httpServer         *fiber.App
	telemetry          *opentelemetry.Telemetry
	logger             log.Logger
	httpAddress        string
	closers            []namedCloser
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	shutdownTimeout    time.Duration
	startupErrors      chan error
}

// NewServerManager creates a new instance of ServerManager. A nil logger is
// replaced with the no-op logger so the lifecycle never nil-checks.
func NewServerManager(telemetry *opentelemetry.Telemetry, logger log.Logger) *ServerManager {
	if logger == nil {
		logger = log.NewNop()
	}

	return &ServerManager{
		telemetry:       telemetry,
		logger:          logger,
		serversStarted:  make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer configures the HTTP server for the ServerManager.
func (sm *ServerManager) WithHTTPServer(app *fiber.App, address string) *ServerManager {
	sm.httpServer = app
	sm.httpAddress = address

	return sm
}

// WithCloser registers a connection shutdown hook. Closers run in
// registration order during graceful shutdown.
func (sm *ServerManager) WithCloser(name string, fn func(ctx context.Context) error) *ServerManager {
	if fn != nil {
		sm.closers = append(sm.closers, namedCloser{name: name, close: fn})
	}

	return sm
}

// WithShutdownChannel configures a custom shutdown channel for the
// ServerManager, letting tests trigger shutdown deterministically instead of
// relying on OS signals.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout configures the maximum duration to wait for in-flight
// requests before the HTTP server is forced down. Defaults to 30 seconds.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	sm.shutdownTimeout = d

	return sm
}

// ServersStarted returns a channel that is closed when the server goroutine
// has been launched. Note: this signals that the goroutine was spawned, not
// that the socket is bound and accepting connections.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

func (sm *ServerManager) validateConfiguration() error {
	if sm.httpServer == nil {
		return ErrNoServersConfigured
	}

	return nil
}

// initServers validates configuration and starts the server without blocking.
func (sm *ServerManager) initServers() error {
	if sm.serversStarted == nil {
		sm.serversStarted = make(chan struct{})
	}

	if err := sm.validateConfiguration(); err != nil {
		return err
	}

	sm.startServers()

	return nil
}

// StartWithGracefulShutdownWithError validates configuration, starts the
// server and blocks until a shutdown signal arrives, the shutdown channel is
// closed, or startup fails.
func (sm *ServerManager) StartWithGracefulShutdownWithError() error {
	if err := sm.initServers(); err != nil {
		return err
	}

	sm.handleShutdown()

	return nil
}

// StartWithGracefulShutdown starts the server and terminates the process
// with os.Exit(1) if no server is configured. Use
// StartWithGracefulShutdownWithError for error handling without process
// termination.
func (sm *ServerManager) StartWithGracefulShutdown() {
	if err := sm.initServers(); err != nil {
		sm.logFatal(err.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			runtime.LogPanicWithStack(context.Background(), sm.logger, "server", "StartWithGracefulShutdown", r)

			sm.executeShutdown()

			os.Exit(1)
		}
	}()

	sm.handleShutdown()
}

// startServers launches the HTTP server goroutine. Listen errors land on the
// startupErrors channel so handleShutdown can tear everything down.
func (sm *ServerManager) startServers() {
	runtime.SafeGoWithContextAndComponent(
		context.Background(),
		sm.logger,
		"server",
		"start_http_server",
		runtime.KeepRunning,
		func(_ context.Context) {
			sm.logInfof("Starting HTTP server on %s", sm.httpAddress)

			if err := sm.httpServer.Listen(sm.httpAddress); err != nil {
				sm.logErrorf("HTTP server error: %v", err)

				select {
				case sm.startupErrors <- fmt.Errorf("HTTP server: %w", err):
				default:
				}
			}
		},
	)

	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

func (sm *ServerManager) logInfo(msg string) {
	sm.logger.Log(context.Background(), log.LevelInfo, msg)
}

func (sm *ServerManager) logInfof(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelInfo, fmt.Sprintf(format, args...))
}

func (sm *ServerManager) logErrorf(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelError, fmt.Sprintf(format, args...))
}

// logFatal logs at error level and terminates the process. Error level is
// used because not every logger implementation exits in its own Fatal.
func (sm *ServerManager) logFatal(msg string) {
	sm.logger.Log(context.Background(), log.LevelError, msg)
	os.Exit(1)
}

// handleShutdown blocks until a termination signal is received, the shutdown
// channel is closed, or a server startup error is detected, then runs the
// shutdown sequence.
func (sm *ServerManager) handleShutdown() {
	if sm.shutdownChan != nil {
		select {
		case <-sm.shutdownChan:
		case err := <-sm.startupErrors:
			sm.logErrorf("Server startup failed: %v", err)
		}
	} else {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		select {
		case <-c:
			signal.Stop(c)
		case err := <-sm.startupErrors:
			sm.logErrorf("Server startup failed: %v", err)
		}
	}

	sm.logInfo("Gracefully shutting down...")

	sm.executeShutdown()
}

// executeShutdown runs the shutdown sequence exactly once: HTTP server first
// so no new work arrives, then telemetry so final metrics export, then the
// connection closers, and the logger sync last.
func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		select {
		case <-sm.serversStarted:
		default:
			sm.logInfo("Shutdown initiated before servers were fully started.")
		}

		if sm.httpServer != nil {
			sm.logInfo("Shutting down HTTP server...")

			if err := sm.httpServer.ShutdownWithTimeout(sm.shutdownTimeout); err != nil {
				sm.logErrorf("Error during HTTP server shutdown: %v", err)
			}
		}

		if sm.telemetry != nil {
			sm.logInfo("Shutting down telemetry...")
			sm.telemetry.ShutdownTelemetry()
		}

		for _, closer := range sm.closers {
			sm.logInfof("Closing %s...", closer.name)

			ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)

			if err := closer.close(ctx); err != nil {
				sm.logErrorf("Error closing %s: %v", closer.name, err)
			}

			cancel()
		}

		if err := sm.logger.Sync(context.Background()); err != nil {
			sm.logErrorf("Failed to sync logger: %v", err)
		}

		sm.logInfo("Graceful shutdown completed")
	})
}
