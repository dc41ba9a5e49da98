package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingPolicy(maxRetries int) (Policy, *[]time.Duration) {
	var delays []time.Duration
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}, &delays
}

func TestIsTransient(t *testing.T) {
	transient := []string{
		"chat: unexpected status 503: Service Unavailable",
		"gemini generate: unexpected status 429: {\"status\":\"RESOURCE_EXHAUSTED\"}",
		"The model is overloaded",
		"upstream 529",
		"Rate limit exceeded",
		"Too Many Requests",
		"context deadline exceeded",
		"read tcp: connection reset by peer",
		"dial tcp 127.0.0.1:11434: connect: connection refused",
		"i/o timeout",
	}
	for _, msg := range transient {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}

	permanent := []string{
		"chat: unexpected status 400: bad request",
		"schema validation failed",
		"not found",
	}
	for _, msg := range permanent {
		assert.False(t, IsTransient(errors.New(msg)), msg)
	}
	assert.False(t, IsTransient(nil))
}

func TestDo_TransientBelowBoundSucceeds(t *testing.T) {
	p, delays := recordingPolicy(3)
	calls := 0

	got, err := Do(context.Background(), p, "judge", func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestDo_NonTransientNeverRetried(t *testing.T) {
	p, delays := recordingPolicy(3)
	calls := 0

	_, err := Do(context.Background(), p, "extract", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("invalid argument")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	p, delays := recordingPolicy(3)
	calls := 0
	boom := errors.New("429 too many requests")

	_, err := Do(context.Background(), p, "generate", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls, "one call plus three retries")
	assert.Len(t, *delays, 3)
}

func TestDo_NegativeRetriesDisables(t *testing.T) {
	p, _ := recordingPolicy(-1)
	calls := 0
	_, err := Do(context.Background(), p, "embed", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("overloaded")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxRetries: 5,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	calls := 0
	last := fmt.Errorf("attempt failed: %w", errors.New("unavailable"))

	_, err := Do(ctx, p, "judge", func(context.Context) (int, error) {
		calls++
		return 0, last
	})

	assert.Equal(t, last, err)
	assert.Equal(t, 1, calls)
}

func TestDelay_DoublesAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	want := []time.Duration{2, 4, 8, 16, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, p.Delay(i), "attempt %d", i)
	}
}

func TestSleep_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
