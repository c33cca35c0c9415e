// Package circuitbreaker wraps sony/gobreaker for calls to external
// services, with logging and an optional state hook for metrics.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the circuit breaker
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state
	Interval time.Duration
	// Timeout is how long to wait before transitioning from open to half-open
	Timeout time.Duration
	// FailureThreshold is the consecutive failures before opening
	FailureThreshold uint32
	// FailureRatio opens the circuit once MinRequests have been seen
	FailureRatio float64
	// MinRequests is minimum requests before the ratio is considered
	MinRequests uint32
	// OnStateChange is called on every transition, after logging
	OnStateChange func(name string, state State)
}

// DefaultConfig returns defaults suitable for the media store client.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker with logging and tracing.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	currentState State
	stateMu      sync.RWMutex
}

// New creates a circuit breaker.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		name:         cfg.Name,
		logger:       logger,
		tracer:       otel.Tracer("circuit-breaker"),
		currentState: StateClosed,
	}

	cb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			toState := mapState(to)

			cb.stateMu.Lock()
			cb.currentState = toState
			cb.stateMu.Unlock()

			cb.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", string(mapState(from))),
				zap.String("to", string(toState)))

			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, toState)
			}
		},
	})

	return cb
}

// Execute runs fn through the circuit breaker.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	_, span := c.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", c.name),
			attribute.String("state", string(c.State())),
		))
	defer span.End()

	result, err := c.cb.Execute(fn)
	if err != nil {
		if IsOpen(err) {
			span.SetAttributes(attribute.Bool("circuit_open", true))
		}
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// State returns the current circuit breaker state.
func (c *CircuitBreaker) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.currentState
}

// Counts returns the current counts from the circuit breaker.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// IsOpen reports whether err means the circuit rejected the call without
// attempting it.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
