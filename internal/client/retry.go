package client

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds an exponential backoff loop.
type RetryConfig struct {
	MaxAttempts  int           // total tries including the first
	InitialDelay time.Duration // delay after the first failure
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // growth per attempt, at least 1
	Jitter       bool          // scale each delay by [0.5, 1.5)
}

// DefaultRetryConfig is used for worker registration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// NextDelay returns the wait before retry number attempt (1-based).
func NextDelay(cfg RetryConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Retry calls fn until it succeeds, returns a permanent error, attempts run
// out or ctx ends. onRetry, when set, observes each failure before the wait.
// The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == cfg.MaxAttempts {
			return err
		}
		delay := NextDelay(cfg, attempt, rng)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
