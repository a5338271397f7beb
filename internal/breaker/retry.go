package breaker

import (
	"context"
	"time"

	"github.com/lattice-games/c4aicore/internal/aierrors"
	"github.com/lattice-games/c4aicore/internal/clockrand"
	"github.com/lattice-games/c4aicore/internal/events"
)

// RetryConfig configures the exponential-backoff retry wrapper (spec §6.4).
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
	// ShouldRetry decides whether err warrants another attempt. Defaults to
	// aierrors.KindOf(err).Retryable() when nil.
	ShouldRetry func(err error) bool
}

func (c RetryConfig) shouldRetry(err error) bool {
	if c.ShouldRetry != nil {
		return c.ShouldRetry(err)
	}
	return aierrors.KindOf(err).Retryable()
}

// Retry runs fn, retrying on failures that ShouldRetry accepts, up to
// MaxAttempts total attempts, with exponential backoff (Factor per attempt,
// capped at MaxDelay, optionally jittered by up to ±50%). Breaker rejections
// (*aierrors.Error with Kind=CircuitOpen) are never retried, matching the
// spec's "breaker rejections are non-retryable by default."
func Retry(ctx context.Context, cfg RetryConfig, rnd clockrand.Random, bus *events.Bus, fn func(ctx context.Context) (any, error)) (any, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if aierrors.KindOf(err) == aierrors.CircuitOpen {
			return nil, err
		}
		if attempt == cfg.MaxAttempts || !cfg.shouldRetry(err) {
			return nil, err
		}

		bus.EmitKV(events.RetryAttempt, "attempt", attempt, "error", err.Error())

		wait := delay
		if cfg.Jitter && rnd != nil {
			// ±50% jitter: wait in [0.5*delay, 1.5*delay).
			jitter := (rnd.Float()*2 - 1) * 0.5
			wait = time.Duration(float64(delay) * (1 + jitter))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return nil, lastErr
}
