// Package retry re-runs remote source reads with exponential backoff. An origin that says when
// to come back (an HTTP Retry-After) is waited for instead of the computed delay, up to MaxDelay.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// RetryAfterDetail is the FieldCacheError detail key holding the delay an origin asked for,
// as a time.Duration.
const RetryAfterDetail = "retry_after"

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps every delay, including ones requested by the origin
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the growth factor between consecutive delays
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads each computed delay by ±20%
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists codes retried even when the error is not flagged Retryable
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the retry configuration used for image loads.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeNetworkError,
			errors.ErrCodeConnectionTimeout,
		},
	}
}

// Retryer runs functions with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer. Zero values take the DefaultConfig settings.
func New(config Config) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	return &Retryer{config: config}
}

// MaxAttempts returns the configured attempt limit.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Do executes fn with retries.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(context.Context) error {
		return fn()
	})
}

// DoWithContext executes fn until it succeeds, fails with an error that is not retryable, or
// runs out of attempts. The last error is returned as fn produced it, so callers can match
// its code. Cancellation of ctx ends the loop with an error wrapping ctx.Err().
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("operation canceled: %w", err)
		}

		err := fn(ctx)
		if err == nil || attempt >= r.config.MaxAttempts || !r.Retryable(err) {
			return err
		}

		delay := r.Delay(attempt, err)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// Retryable reports whether err is worth another attempt: a FieldCacheError that is flagged
// Retryable or carries one of the configured codes. Errors from outside the package's error
// type are never retried.
func (r *Retryer) Retryable(err error) bool {
	var fe *errors.FieldCacheError
	if !stderr.As(err, &fe) {
		return false
	}
	if fe.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// Delay returns the wait before the retry that follows a failed attempt.
func (r *Retryer) Delay(attempt int, err error) time.Duration {
	if after, ok := RetryAfter(err); ok {
		return min(after, r.config.MaxDelay)
	}

	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	delay = math.Min(delay, float64(r.config.MaxDelay))
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// RetryAfter returns the delay an origin asked for, if err carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var fe *errors.FieldCacheError
	if !stderr.As(err, &fe) || fe.Details == nil {
		return 0, false
	}
	d, ok := fe.Details[RetryAfterDetail].(time.Duration)
	if !ok || d <= 0 {
		return 0, false
	}
	return d, true
}
