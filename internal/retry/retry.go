// Package retry provides exponential-backoff retries and circuit breaking
// for calls to external data APIs. Database and auth operations are never
// routed through this package: their failure modes are not assumed
// idempotent-safe.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quietriver/assistant/internal/domain"
)

// Config holds retry parameters.
type Config struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; subsequent waits
	// double (base * 2^(attempt-1)).
	BaseDelay time.Duration
}

// DefaultConfig mirrors the budgets used around tool calls.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Second}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// Do invokes op up to cfg.MaxAttempts times with exponential backoff.
// After exhausting attempts it returns an EXTERNAL_API_ERROR wrapping the
// last failure, with the attempt count in the details. Context
// cancellation aborts the backoff wait.
func Do(ctx context.Context, name string, cfg Config, op func(context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attempts = attempt
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Breaker-open means the endpoint is known-bad; further attempts
		// only extend the outage window.
		if errors.Is(err, ErrBreakerOpen) {
			return domain.NewError(domain.KindAPIUnavailable,
				fmt.Sprintf("%s is temporarily unavailable", name)).
				WithCause(err).
				WithDetail("operation", name)
		}

		if ctx.Err() != nil {
			break
		}

		if attempt < cfg.MaxAttempts {
			delay := cfg.BaseDelay << (attempt - 1)
			slog.Debug("operation failed, retrying",
				slog.String("operation", name),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", cfg.MaxAttempts),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.NewError(domain.KindExternalAPI,
					fmt.Sprintf("%s abandoned: %v", name, ctx.Err())).
					WithCause(lastErr).
					WithDetail("operation", name).
					WithDetail("attempts", attempt)
			case <-timer.C:
			}
		}
	}

	return domain.NewError(domain.KindExternalAPI,
		fmt.Sprintf("%s failed after %d attempts", name, attempts)).
		WithCause(lastErr).
		WithDetail("operation", name).
		WithDetail("attempts", attempts).
		WithDetail("last_error", lastErr.Error())
}
