package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

// RetryAfterHinter is implemented by errors carrying a server-provided
// retry-after duration (rate-limit responses). The hint stretches the next
// backoff delay, it never shortens it.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// Executor runs fallible operations with transient-only retry and, for
// guarded operations, a circuit breaker against the external classification
// service. Processing is strictly sequential, so the breaker has a single
// writer; snapshots are still safe for concurrent health-check readers.
type Executor struct {
	cfg     Config
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[any]

	// OnRetry, when set, is invoked once per retry attempt. Set at wiring
	// time before any operation runs.
	OnRetry func(operation string)
}

func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()

	e := &Executor{cfg: cfg, logger: logger}
	e.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "classification",
		MaxRequests: 1,
		Interval:    cfg.BreakerWindow,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= cfg.BreakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller-side cancellation says nothing about service health.
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit_breaker_state_change",
				"operation", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return e
}

// Execute runs fn with transient-only retry and exponential backoff.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	return e.run(ctx, operation, fn, false)
}

// ExecuteGuarded is Execute with every attempt routed through the circuit
// breaker, so each attempt is individually recorded against the service.
// While the breaker is open, attempts fail immediately without reaching fn
// and surface as critical.
func (e *Executor) ExecuteGuarded(ctx context.Context, operation string, fn func(context.Context) error) error {
	return e.run(ctx, operation, fn, true)
}

func (e *Executor) run(ctx context.Context, operation string, fn func(context.Context) error, guarded bool) error {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		if guarded {
			_, err = e.breaker.Execute(func() (any, error) {
				return nil, fn(ctx)
			})
			if IsCircuitOpen(err) {
				err = domain.WrapError(domain.ErrCritical, operation, err)
			}
		} else {
			err = fn(ctx)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !e.ShouldRetry(err, attempt) {
			return err
		}

		wait := e.BackoffDelay(attempt)
		var hinter RetryAfterHinter
		if errors.As(err, &hinter) {
			if hint := hinter.RetryAfterHint(); hint > wait {
				wait = hint
			}
		}

		if e.OnRetry != nil {
			e.OnRetry(operation)
		}
		e.logger.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// BackoffDelay computes the delay before retrying after attempt n (1-based):
// min(initial * multiplier^(n-1), max) plus uniform jitter.
func (e *Executor) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Multiplier, float64(attempt-1))
	delay := time.Duration(base)
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	if e.cfg.MaxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(e.cfg.MaxJitter)))
	}
	return delay
}

// BreakerSnapshot returns a consistent view of the breaker state for health
// checks and metrics.
func (e *Executor) BreakerSnapshot() domain.CircuitSnapshot {
	counts := e.breaker.Counts()
	return domain.CircuitSnapshot{
		State:    e.breaker.State().String(),
		Requests: counts.Requests,
		Failures: counts.TotalFailures,
	}
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
