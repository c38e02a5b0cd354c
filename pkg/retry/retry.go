package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns the backoff used for backend connections at startup
func DefaultConfig() Config {
	return Config{
		MaxRetries:  4,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes fn with exponential backoff until it succeeds, returns a
// Permanent error, the attempts run out or ctx is done.
// onRetry, if not nil, is called before each wait.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		waitTime := Backoff(attempt, cfg)
		if onRetry != nil {
			onRetry(attempt+1, waitTime, lastErr)
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return lastErr
}

// Backoff calculates the wait before the next attempt: initialWait * multiplier^attempt,
// capped at MaxWait, with ±25% jitter and never below InitialWait
func Backoff(attempt int, cfg Config) time.Duration {
	backoff := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt))

	if backoff > float64(cfg.MaxWait) {
		backoff = float64(cfg.MaxWait)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < float64(cfg.InitialWait) {
		backoff = float64(cfg.InitialWait)
	}

	return time.Duration(backoff)
}
