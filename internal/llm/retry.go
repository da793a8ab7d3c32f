package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/ocr-workbench/internal/config"
	"github.com/spherical/ocr-workbench/internal/domain"
)

// retrySignals mark an error as a transient availability failure.
var retrySignals = []string{
	"503",
	"429",
	"unavailable",
	"overloaded",
	"busy",
	"resource exhausted",
	"resource_exhausted",
}

// Retrier runs a request with bounded exponential backoff.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	logger zerolog.Logger
}

// NewRetrier creates a retrier from configuration.
func NewRetrier(cfg config.RetryConfig, logger zerolog.Logger) *Retrier {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &Retrier{
		MaxAttempts: attempts,
		BaseDelay:   cfg.BaseDelay,
		MaxJitter:   cfg.MaxJitter,
		sleep:       sleepContext,
		jitter:      randomJitter,
		logger:      logger.With().Str("component", "retry").Logger(),
	}
}

// WithSleep replaces the wait between attempts. Tests use it to skip backoff.
func (r *Retrier) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

// WithJitter replaces the jitter source.
func (r *Retrier) WithJitter(jitter func(max time.Duration) time.Duration) *Retrier {
	r.jitter = jitter
	return r
}

// IsRetryable reports whether err signals that the service is temporarily
// unavailable. Credential failures are never retried.
func IsRetryable(err error) bool {
	if err == nil || domain.IsType(err, domain.ErrorTypeCredential) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retrySignals {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Backoff returns the delay before the attempt following attempt (0-based):
// 2^attempt * base plus jitter.
func (r *Retrier) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(r.BaseDelay) * math.Pow(2, float64(attempt)))
	if r.MaxJitter > 0 && r.jitter != nil {
		d += r.jitter(r.MaxJitter)
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. onStatus, when set, receives a message before
// every wait.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error, onStatus func(status string)) error {
	var lastErr error

	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !IsRetryable(err) {
			return domain.APIError("The AI returned an error", err)
		}

		if attempt == r.MaxAttempts-1 {
			break
		}

		delay := r.Backoff(attempt)
		status := fmt.Sprintf("Model is busy. Retrying in %ds... (Attempt %d/%d)",
			int(math.Round(delay.Seconds())), attempt+1, r.MaxAttempts)
		r.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("transient AI failure, retrying")
		if onStatus != nil {
			onStatus(status)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return domain.TransientServiceError(
		"The AI service is still busy after multiple attempts. Please try again later. Last error: "+lastErr.Error(),
		lastErr,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
