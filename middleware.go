package stoat

import (
	"context"
	"runtime/debug"
	"time"
)

// RecoveryMiddleware recovers from panics in handlers and aggregates and
// returns them as internal errors.
func RecoveryMiddleware() Middleware {
	return func(next Executor) Executor {
		return func(ctx context.Context, inv *Invocation) (result Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = Result{}
					err = NewPanicError(inv.CommandType, r, string(debug.Stack()))
				}
			}()
			return next(ctx, inv)
		}
	}
}

// LoggingMiddleware logs command execution.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Middleware returns the middleware function.
func (m *LoggingMiddleware) Middleware() Middleware {
	return func(next Executor) Executor {
		return func(ctx context.Context, inv *Invocation) (Result, error) {
			start := time.Now()

			m.logger.Info("Executing command",
				"type", inv.CommandType,
				"operation", string(inv.Operation),
				"aggregateType", inv.AggregateType,
				"aggregateId", inv.AggregateID,
				"correlationId", inv.Context.CorrelationID(),
			)

			result, err := next(ctx, inv)

			duration := time.Since(start)

			if err != nil {
				m.logger.Error("Command failed",
					"type", inv.CommandType,
					"aggregateId", inv.AggregateID,
					"duration", duration,
					"kind", KindOf(err).String(),
					"error", err,
				)
			} else {
				m.logger.Info("Command completed",
					"type", inv.CommandType,
					"aggregateId", result.AggregateID,
					"duration", duration,
					"version", result.Version,
					"events", len(result.Envelopes),
				)
			}

			return result, err
		}
	}
}

// TimeoutMiddleware bounds command execution. A timeout while loading or
// committing surfaces as StorageUnavailable.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Executor) Executor {
		return func(ctx context.Context, inv *Invocation) (Result, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, inv)
		}
	}
}

// RetryConfig configures RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// Multiplier grows the delay after each attempt.
	Multiplier float64

	// ShouldRetry decides whether an error is retried. Defaults to kinds
	// that are Retryable.
	ShouldRetry func(err error) bool
}

// DefaultRetryConfig returns a default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryMiddleware re-runs a command that failed with a retryable error.
// Each attempt reloads the aggregate, so a conflict is retried against the
// winner's state.
func RetryMiddleware(config RetryConfig) Middleware {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1.0
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = func(err error) bool { return KindOf(err).Retryable() }
	}

	return func(next Executor) Executor {
		return func(ctx context.Context, inv *Invocation) (Result, error) {
			var result Result
			var err error
			delay := config.InitialDelay

			for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
				result, err = next(ctx, inv)
				if err == nil {
					return result, nil
				}
				if attempt == config.MaxAttempts || !config.ShouldRetry(err) {
					break
				}

				select {
				case <-ctx.Done():
					return Result{}, ctx.Err()
				case <-time.After(delay):
				}

				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			}
			return result, err
		}
	}
}

// ConditionalMiddleware applies middleware only if the condition is true.
func ConditionalMiddleware(condition func(*Invocation) bool, middleware Middleware) Middleware {
	return func(next Executor) Executor {
		wrapped := middleware(next)
		return func(ctx context.Context, inv *Invocation) (Result, error) {
			if condition(inv) {
				return wrapped(ctx, inv)
			}
			return next(ctx, inv)
		}
	}
}

// CommandTypeMiddleware applies middleware only for specific command types.
func CommandTypeMiddleware(types []string, middleware Middleware) Middleware {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return ConditionalMiddleware(func(inv *Invocation) bool {
		return typeSet[inv.CommandType]
	}, middleware)
}
