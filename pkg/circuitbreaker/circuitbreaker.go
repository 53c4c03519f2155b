package circuitbreaker

import (
	"context"
	"time"

	"github.com/fjod/pharmacy-cart/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// Options tunes a breaker. Zero values fall back to the defaults below.
type Options struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
	// IsSuccessful decides which errors count as failures. Nil means every error does.
	IsSuccessful func(err error) bool
}

const (
	defaultConsecutiveFailures = 5
	defaultOpenTimeout         = 10 * time.Second
	defaultHalfOpenRequests    = 1
)

// New builds a breaker that opens after a run of consecutive failures and
// logs every state transition.
func New[T any](opts Options, logg *logger.Logger) *gobreaker.CircuitBreaker[T] {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = defaultConsecutiveFailures
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	if opts.HalfOpenRequests == 0 {
		opts.HalfOpenRequests = defaultHalfOpenRequests
	}
	threshold := opts.ConsecutiveFailures

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.HalfOpenRequests,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: opts.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "circuit breaker state changed", nil)
		},
	})
}
