package chronotype

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronofi/chronolend/internal/circuitbreaker"
	"github.com/chronofi/chronolend/internal/retry"
)

// Defaults for the resilient wrapper. The whole call budget stays in
// single-digit seconds so a slow classifier cannot stall a ledger
// operation.
const (
	DefaultMaxAttempts      = 3
	DefaultBaseDelay        = 200 * time.Millisecond
	DefaultCallTimeout      = 2 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerOpenTime  = 30 * time.Second
)

// ResilientPredictor wraps a Predictor with a per-attempt timeout, a
// small bounded retry with backoff, and a circuit breaker so a dead
// classifier is not hammered on every ledger operation. The policy
// lives here rather than at each call site.
type ResilientPredictor struct {
	inner       Predictor
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
	breaker     *circuitbreaker.Breaker
	logger      *slog.Logger
}

// NewResilientPredictor wraps inner with the default retry policy.
func NewResilientPredictor(inner Predictor, logger *slog.Logger) *ResilientPredictor {
	return &ResilientPredictor{
		inner:       inner,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		callTimeout: DefaultCallTimeout,
		breaker:     circuitbreaker.New("predictor", DefaultBreakerThreshold, DefaultBreakerOpenTime),
		logger:      logger,
	}
}

// WithPolicy overrides the retry policy.
func (r *ResilientPredictor) WithPolicy(maxAttempts int, baseDelay, callTimeout time.Duration) *ResilientPredictor {
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		r.baseDelay = baseDelay
	}
	if callTimeout > 0 {
		r.callTimeout = callTimeout
	}
	return r
}

// Predict attempts the classifier call under the bounded policy. On
// exhaustion it returns ErrServiceUnavailable wrapped in the last error;
// the caller is expected to fall back, not to fail.
func (r *ResilientPredictor) Predict(ctx context.Context, pattern [24]float64) (Prediction, error) {
	if !r.breaker.Allow() {
		return Prediction{}, fmt.Errorf("classifier circuit open: %w", ErrServiceUnavailable)
	}

	var result Prediction

	err := retry.Do(ctx, r.maxAttempts, r.baseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		p, err := r.inner.Predict(callCtx, pattern)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		r.breaker.RecordFailure()
		if r.logger != nil {
			r.logger.Warn("chronotype prediction failed, caller will fall back", "error", err)
		}
		return Prediction{}, err
	}

	r.breaker.RecordSuccess()
	return result, nil
}
