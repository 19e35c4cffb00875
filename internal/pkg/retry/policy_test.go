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

type tempErr struct{ temp bool }

func (e tempErr) Error() string   { return fmt.Sprintf("temp=%v", e.temp) }
func (e tempErr) Temporary() bool { return e.temp }

func noSleep(p Policy) (Policy, *[]time.Duration) {
	var waits []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	p.jitter = func() float64 { return 1 }
	return p, &waits
}

func TestPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	p, waits := noSleep(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second})

	calls := 0
	n, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestPolicy_StopsOnPermanent(t *testing.T) {
	p, _ := noSleep(Policy{MaxAttempts: 5, BaseDelay: time.Second})

	calls := 0
	n, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errors.New("invalid phone"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.False(t, IsRetryable(err))
}

func TestPolicy_TemporaryInterface(t *testing.T) {
	p, _ := noSleep(Policy{MaxAttempts: 4, BaseDelay: time.Millisecond})

	calls := 0
	_, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fmt.Errorf("gateway: %w", tempErr{temp: false})
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-temporary errors must not retry")
}

func TestPolicy_Exhausted(t *testing.T) {
	p, _ := noSleep(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	cause := tempErr{temp: true}
	n, err := p.Do(context.Background(), func(context.Context, int) error { return cause })

	assert.Equal(t, 3, n)
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Attempts)
	assert.True(t, errors.Is(err, cause))
}

func TestPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	n, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errors.New("timeout")
	})
	assert.Equal(t, 1, n)
	assert.EqualError(t, err, "timeout")
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, jitter: func() float64 { return 1 }}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(10), "delay is capped")

	p.jitter = func() float64 { return 0 }
	assert.Equal(t, 100*time.Millisecond, p.Delay(1), "delay has a floor")
}

func TestPolicy_AttemptsFloor(t *testing.T) {
	assert.Equal(t, 1, Policy{}.Attempts())
	assert.Equal(t, 3, DefaultPolicy().Attempts())
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 466} {
		assert.False(t, IsRetryableStatus(code), "status %d", code)
	}
}

func TestIsRetryable_Context(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("send: %w", context.DeadlineExceeded)))
	assert.True(t, IsRetryable(errors.New("EOF")))
	assert.False(t, IsRetryable(nil))
}

func TestTransient(t *testing.T) {
	cause := fmt.Errorf("dial: %w", tempErr{temp: false})
	assert.False(t, IsRetryable(cause))
	assert.True(t, IsRetryable(Transient(cause)))
	assert.True(t, errors.Is(Transient(cause), cause))
	assert.Nil(t, Transient(nil))
}
