// Package redis manages the Redis connection backing the HTTP rate limiter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

// ErrNilConnection is returned when a method is called on a nil receiver.
var ErrNilConnection = errors.New("redis connection is nil")

// RedisConnection is a hub which deals with redis connections.
type RedisConnection struct {
	Addr           string
	User           string `json:"-"`
	Password       string `json:"-"`
	DB             int
	Protocol       int
	PoolSize       int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         log.Logger
	Client         redis.UniversalClient
	Connected      bool
	mu             sync.Mutex
	newClientFn    func(*redis.UniversalOptions) redis.UniversalClient
	pingTimeoutDur time.Duration
}

func (rc *RedisConnection) applyDefaults() {
	if rc.Logger == nil {
		rc.Logger = &log.NopLogger{}
	}

	if rc.newClientFn == nil {
		rc.newClientFn = func(opts *redis.UniversalOptions) redis.UniversalClient {
			return redis.NewUniversalClient(opts)
		}
	}

	if rc.pingTimeoutDur <= 0 {
		rc.pingTimeoutDur = defaultPingTimeout
	}
}

// Connect keeps a singleton connection with redis.
func (rc *RedisConnection) Connect(ctx context.Context) error {
	if rc == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.applyDefaults()

	rc.Logger.Log(ctx, log.LevelInfo, "connecting to redis", log.String("addr", rc.Addr))

	client := rc.newClientFn(&redis.UniversalOptions{
		Addrs:        []string{rc.Addr},
		Username:     rc.User,
		Password:     rc.Password,
		DB:           rc.DB,
		Protocol:     rc.Protocol,
		PoolSize:     rc.PoolSize,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, rc.pingTimeoutDur)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		rc.Logger.Log(ctx, log.LevelError, "failed to ping redis", log.Err(err))

		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	rc.Client = client
	rc.Connected = true

	rc.Logger.Log(ctx, log.LevelInfo, "connected to redis")

	return nil
}

// GetClient returns the redis client, connecting lazily if necessary.
func (rc *RedisConnection) GetClient(ctx context.Context) (redis.UniversalClient, error) {
	if rc == nil {
		return nil, ErrNilConnection
	}

	rc.mu.Lock()
	if rc.Client != nil {
		client := rc.Client
		rc.mu.Unlock()

		return client, nil
	}
	rc.mu.Unlock()

	if err := rc.Connect(ctx); err != nil {
		return nil, err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.Client, nil
}

// HealthCheck pings the server.
func (rc *RedisConnection) HealthCheck(ctx context.Context) (bool, error) {
	if rc == nil {
		return false, ErrNilConnection
	}

	client, err := rc.GetClient(ctx)
	if err != nil {
		return false, err
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return false, fmt.Errorf("redis health check failed: %w", err)
	}

	return true, nil
}

// Close releases the redis client.
func (rc *RedisConnection) Close() error {
	if rc == nil {
		return ErrNilConnection
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.Client == nil {
		return nil
	}

	err := rc.Client.Close()
	rc.Client = nil
	rc.Connected = false

	return err
}
