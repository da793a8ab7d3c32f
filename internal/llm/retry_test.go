package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-workbench/internal/config"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/observability"
)

func testRetrier() (*Retrier, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrier(config.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxJitter:   time.Second,
	}, observability.Nop())
	r.WithSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}).WithJitter(func(max time.Duration) time.Duration {
		return 250 * time.Millisecond
	})
	return r, &slept
}

func TestRetrier_TransientExhaustsAttempts(t *testing.T) {
	r, slept := testRetrier()
	calls := 0
	var statuses []string

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 503, Body: "The model is overloaded"}
	}, func(s string) { statuses = append(statuses, s) })

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, domain.IsType(err, domain.ErrorTypeTransient))
	assert.Contains(t, err.Error(), "Last error: HTTP 503: The model is overloaded")
	assert.Equal(t, domain.CategoryRetryLater, domain.CategoryOf(err))

	assert.Equal(t, []time.Duration{1250 * time.Millisecond, 2250 * time.Millisecond}, *slept)
	assert.Equal(t, []string{
		"Model is busy. Retrying in 1s... (Attempt 1/3)",
		"Model is busy. Retrying in 2s... (Attempt 2/3)",
	}, statuses)
}

func TestRetrier_NonRetryableStopsImmediately(t *testing.T) {
	r, slept := testRetrier()
	calls := 0

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("HTTP 400: invalid request")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
	assert.True(t, domain.IsType(err, domain.ErrorTypeAPI))
	assert.Contains(t, err.Error(), "The AI returned an error")
}

func TestRetrier_CredentialNotRetried(t *testing.T) {
	r, _ := testRetrier()
	calls := 0

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.InvalidCredentialError("API key not valid", &StatusError{Code: 401, Body: "service unavailable for this key"})
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.CategoryNeedsCredential, domain.CategoryOf(err))
}

func TestRetrier_RecoversAfterTransient(t *testing.T) {
	r, slept := testRetrier()
	calls := 0

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("UNAVAILABLE: try later")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestRetrier_ContextCancelledDuringWait(t *testing.T) {
	r := NewRetrier(config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour}, observability.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("503")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("HTTP 503: Service Unavailable"), true},
		{errors.New("HTTP 429: rate limited"), true},
		{errors.New("model is OVERLOADED"), true},
		{errors.New("RESOURCE_EXHAUSTED"), true},
		{errors.New("HTTP 400: bad request"), false},
		{domain.InvalidCredentialError("API key not valid", errors.New("503")), false},
		{nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestBackoff_Exponential(t *testing.T) {
	r := NewRetrier(config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}, observability.Nop())

	assert.Equal(t, time.Second, r.Backoff(0))
	assert.Equal(t, 2*time.Second, r.Backoff(1))
	assert.Equal(t, 4*time.Second, r.Backoff(2))
}
