// Package circuitbreaker wraps sony/gobreaker with service-shaped defaults
// and structured state change logging.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/sony/gobreaker"
)

// Config holds the trip thresholds for a breaker.
type Config struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker regardless of ratio.
	ConsecutiveFailures uint32
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	// MinRequests is the sample size required before the ratio applies.
	MinRequests uint32
}

// DefaultConfig provides balanced settings for most remotes.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 15,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// HTTPServiceConfig trips faster, tuned for external HTTP APIs.
func HTTPServiceConfig() Config {
	return Config{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// State reports the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts mirrors the gobreaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards calls to a single remote dependency. Requests fast-fail
// with gobreaker.ErrOpenState while the breaker is open; callers decide how
// that maps onto their own error taxonomy.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

// New builds a breaker named after the remote it guards.
func New(name string, config Config, logger log.Logger) *Breaker {
	if logger == nil {
		logger = log.NewNop()
	}

	b := &Breaker{name: name, logger: logger}

	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.ConsecutiveFailures >= config.ConsecutiveFailures ||
				(counts.Requests >= config.MinRequests && failureRatio >= config.FailureRatio)
		},
		OnStateChange: b.logStateChange,
	})

	return b
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.breaker.Execute(fn)
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

// Counts returns the breaker statistics for the current generation.
func (b *Breaker) Counts() Counts {
	counts := b.breaker.Counts()

	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// IsHealthy reports whether the breaker is closed. Open and half-open both
// count as unhealthy for readiness purposes.
func (b *Breaker) IsHealthy() bool {
	return b.State() == StateClosed
}

func (b *Breaker) logStateChange(name string, from, to gobreaker.State) {
	ctx := context.Background()

	level := log.LevelInfo
	if to == gobreaker.StateOpen {
		level = log.LevelError
	}

	b.logger.Log(ctx, level, "circuit breaker state changed",
		log.String("breaker", name),
		log.String("from", from.String()),
		log.String("to", to.String()),
	)
}
