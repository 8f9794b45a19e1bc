// Package retry backs off and re-runs transient failures, primarily the
// runtime's LLM stream attempts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config bounds the attempts and the backoff between them.
type Config struct {
	// MaxAttempts counts the first try too.
	MaxAttempts int
	// InitialDelay is the pause after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// Factor multiplies the delay after every failed attempt.
	Factor float64
	// Jitter spreads each pause over [0.5, 1.5] of the computed delay.
	Jitter bool
}

// DefaultConfig is the fallback when a caller leaves StreamRetry zero.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// sanitized fills unusable fields so a partially set Config still behaves.
func (c Config) sanitized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// attempt budget, or ctx dies. The last error wins.
func Do(ctx context.Context, cfg Config, op func() error) error {
	cfg = cfg.sanitized()
	delay := cfg.InitialDelay

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = op()
		if last == nil {
			return nil
		}
		if IsPermanent(last) || attempt == cfg.MaxAttempts {
			return last
		}

		sleep := delay
		if cfg.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- backoff jitter
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return last
}

// PermanentError marks a failure that retrying cannot fix, such as a stream
// that already delivered partial output.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do stops immediately. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
