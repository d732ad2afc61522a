//go:build unit

package server_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger records messages and can return a Sync error.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
	syncErr  error
}

func (l *recordingLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
}

func (l *recordingLogger) With(_ ...log.Field) log.Logger { return l }
func (l *recordingLogger) WithGroup(_ string) log.Logger  { return l }
func (l *recordingLogger) Enabled(_ log.Level) bool       { return true }
func (l *recordingLogger) Sync(_ context.Context) error   { return l.syncErr }

func (l *recordingLogger) getMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := make([]string, len(l.messages))
	copy(cp, l.messages)

	return cp
}

func newQuietApp() *fiber.App {
	return fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
}

func TestNewServerManager(t *testing.T) {
	sm := server.NewServerManager(nil, nil)
	assert.NotNil(t, sm)
}

func TestStartWithGracefulShutdownWithError_NoServers(t *testing.T) {
	sm := server.NewServerManager(nil, nil)

	err := sm.StartWithGracefulShutdownWithError()

	require.Error(t, err)
	assert.ErrorIs(t, err, server.ErrNoServersConfigured)
}

func TestStartWithGracefulShutdownWithError_HTTPServer_Success(t *testing.T) {
	app := newQuietApp()
	shutdownChan := make(chan struct{})

	sm := server.NewServerManager(nil, nil).
		WithHTTPServer(app, ":0").
		WithShutdownChannel(shutdownChan)

	done := make(chan error, 1)

	go func() {
		done <- sm.StartWithGracefulShutdownWithError()
	}()

	select {
	case <-sm.ServersStarted():
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out waiting for servers to start")
	}

	close(shutdownChan)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out waiting for graceful shutdown to complete")
	}
}

func TestStartWithGracefulShutdownWithError_HTTPStartupError(t *testing.T) {
	// Bind a port so the HTTP server will fail to listen.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer func() { require.NoError(t, ln.Close()) }()

	occupiedAddr := ln.Addr().String()

	sm := server.NewServerManager(nil, nil).
		WithHTTPServer(newQuietApp(), occupiedAddr)

	done := make(chan error, 1)

	go func() {
		done <- sm.StartWithGracefulShutdownWithError()
	}()

	select {
	case err := <-done:
		assert.NoError(t, err, "shutdown completes after a startup error")
	case <-time.After(10 * time.Second):
		t.Fatal("Test timed out: startup error was not propagated")
	}
}

func TestServerManager_ClosersRunInRegistrationOrder(t *testing.T) {
	shutdownChan := make(chan struct{})

	var (
		mu    sync.Mutex
		order []string
	)

	record := func(name string) func(context.Context) error {
		return func(_ context.Context) error {
			mu.Lock()
			defer mu.Unlock()

			order = append(order, name)

			return nil
		}
	}

	sm := server.NewServerManager(nil, nil).
		WithHTTPServer(newQuietApp(), ":0").
		WithCloser("postgres", record("postgres")).
		WithCloser("rabbitmq", record("rabbitmq")).
		WithCloser("redis", record("redis")).
		WithShutdownChannel(shutdownChan)

	done := make(chan error, 1)

	go func() {
		done <- sm.StartWithGracefulShutdownWithError()
	}()

	<-sm.ServersStarted()
	close(shutdownChan)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out waiting for shutdown")
	}

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"postgres", "rabbitmq", "redis"}, order)
}

func TestServerManager_CloserErrorDoesNotStopShutdown(t *testing.T) {
	shutdownChan := make(chan struct{})
	logger := &recordingLogger{}

	var secondRan bool

	sm := server.NewServerManager(nil, logger).
		WithHTTPServer(newQuietApp(), ":0").
		WithCloser("broken", func(_ context.Context) error {
			return errors.New("close failed")
		}).
		WithCloser("second", func(_ context.Context) error {
			secondRan = true

			return nil
		}).
		WithShutdownChannel(shutdownChan)

	done := make(chan error, 1)

	go func() {
		done <- sm.StartWithGracefulShutdownWithError()
	}()

	<-sm.ServersStarted()
	close(shutdownChan)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out waiting for shutdown")
	}

	assert.True(t, secondRan)
	assert.Contains(t, logger.getMessages(), "Error closing broken: close failed")
}

func TestServerManager_NilCloserIgnored(t *testing.T) {
	sm := server.NewServerManager(nil, nil).WithCloser("noop", nil)
	assert.NotNil(t, sm)
}

func TestWithShutdownTimeout(t *testing.T) {
	sm := server.NewServerManager(nil, nil).
		WithShutdownTimeout(10 * time.Second)
	assert.NotNil(t, sm)
}
