package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flaky struct{ retry bool }

func (f flaky) Error() string      { return "flaky" }
func (f flaky) IsRetryable() bool { return f.retry }

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRun_SucceedsAfterRetryableFailures(t *testing.T) {
	r := NewRetrier(fastPolicy(3), nil)
	calls := 0

	got, err := Run(context.Background(), r, "op", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, flaky{retry: true}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRun_DoesNotRetryPermanentErrors(t *testing.T) {
	r := NewRetrier(fastPolicy(3), nil)
	calls := 0

	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return flaky{retry: false}
	})

	assert.Equal(t, 1, calls)
	assert.False(t, errors.Is(err, ErrMaxRetriesExceeded))
}

func TestRun_ExhaustsPolicy(t *testing.T) {
	r := NewRetrier(fastPolicy(2), nil)
	calls := 0

	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return flaky{retry: true}
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	var f flaky
	assert.True(t, errors.As(err, &f), "last error stays in the chain")
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	r := NewRetrier(fastPolicy(3), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, "op", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_RetryableFuncOverridesClassification(t *testing.T) {
	p := fastPolicy(1)
	p.RetryableFunc = func(error) bool { return true }
	r := NewRetrier(p, nil)
	calls := 0

	_ = r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("plain")
	})
	assert.Equal(t, 2, calls)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	bad := []Policy{
		{MaxRetries: -1, Multiplier: 1},
		{InitialDelay: time.Second, MaxDelay: time.Millisecond, Multiplier: 1},
		{Multiplier: 0.5},
		{Multiplier: 1, Jitter: 2},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
	assert.Panics(t, func() { NewRetrier(Policy{Multiplier: 0}, nil) })
}

func TestBackoff_Calculate(t *testing.T) {
	b := NewBackoff(Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2})

	assert.Equal(t, 100*time.Millisecond, b.Calculate(1))
	assert.Equal(t, 200*time.Millisecond, b.Calculate(2))
	assert.Equal(t, 400*time.Millisecond, b.Calculate(3))
	assert.Equal(t, time.Second, b.Calculate(10))
	assert.Equal(t, 100*time.Millisecond, b.Calculate(0))
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	b := NewBackoff(Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 1, Jitter: 0.5})
	for i := 0; i < 50; i++ {
		d := b.Calculate(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
