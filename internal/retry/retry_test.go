package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "invoker/internal/errors"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2,
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"revert", errors.New("execution reverted: insufficient balance"), false},
		{"nonce too low", errors.New("nonce too low"), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"explicit retryable", NewRetryableError(errors.New("custom"), true), true},
		{"explicit final", NewRetryableError(errors.New("timeout"), false), false},
		{"invalid invocation", apperrors.InvalidInvocation("timeout in message"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	r := NewRetrier(fastConfig(3), quietLogger())

	calls := 0
	result, err := Do(context.Background(), r, "eth_call", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	r := NewRetrier(fastConfig(5), quietLogger())
	reverted := errors.New("execution reverted")

	calls := 0
	_, err := Do(context.Background(), r, "eth_call", func() (int, error) {
		calls++
		return 0, reverted
	})
	assert.ErrorIs(t, err, reverted)
	assert.Equal(t, 1, calls)
}

func TestDo_WrapsAfterExhaustingAttempts(t *testing.T) {
	r := NewRetrier(fastConfig(2), quietLogger())
	transient := errors.New("i/o timeout")

	calls := 0
	_, err := Do(context.Background(), r, "eth_sendRawTransaction", func() (struct{}, error) {
		calls++
		return struct{}{}, transient
	})
	assert.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "重试 2 次后失败")
	assert.Equal(t, 2, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	r := NewRetrier(&RetryConfig{MaxAttempts: 5, InitialInterval: time.Hour, MaxInterval: time.Hour, BackoffFactor: 1}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, r, "eth_call", func() (int, error) {
			calls++
			return 0, errors.New("connection refused")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("重试未响应取消")
	}
	assert.LessOrEqual(t, calls, 1)
}

func TestCalculateDelay(t *testing.T) {
	r := NewRetrier(&RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     300 * time.Millisecond,
		BackoffFactor:   2,
	}, quietLogger())

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 300*time.Millisecond, r.calculateDelay(3))

	jittered := NewRetrier(&RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         time.Second,
		BackoffFactor:       2,
		RandomizationFactor: 0.5,
		EnableJitter:        true,
	}, quietLogger())
	for i := 0; i < 20; i++ {
		d := jittered.calculateDelay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
