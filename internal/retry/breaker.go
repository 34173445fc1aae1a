package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrBreakerOpen indicates the circuit breaker is refusing calls.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Breaker wraps a gobreaker circuit breaker around an external endpoint.
// Five consecutive failures open the circuit; one probe request is let
// through after the recovery timeout.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	Name        string
	MaxFailures uint32
	Recovery    time.Duration
}

// NewBreaker creates a breaker, filling unset fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Recovery <= 0 {
		cfg.Recovery = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs op through the breaker. ErrBreakerOpen is returned when
// the circuit is open or a half-open probe is already in flight.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}
