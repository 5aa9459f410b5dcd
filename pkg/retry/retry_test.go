package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		Multiplier:       2.0,
		MaxSameErrorType: 5,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls) // initial attempt + 3 retries
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Second

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		calls++
		return errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

type explicitErr struct{ retryable bool }

func (e explicitErr) Error() string     { return "explicit" }
func (e explicitErr) IsRetryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"deadlock", errors.New("ERROR: deadlock detected"), true},
		{"serialization", errors.New("could not serialize access due to concurrent update"), true},
		{"too many clients", errors.New("FATAL: sorry, too many clients already"), true},
		{"http 503", errors.New("unexpected status 503"), true},
		{"unique violation", errors.New("duplicate key value violates unique constraint"), false},
		{"bad sql", errors.New("syntax error at or near SELECT"), false},
		{"explicit retryable", explicitErr{true}, true},
		{"explicit permanent", explicitErr{false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDoIfRetryableStopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := errors.New("syntax error")
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		calls++
		return perm
	})
	assert.ErrorIs(t, err, perm)
	assert.Equal(t, 1, calls)
}

func TestDoIfRetryableEscalatesRepeatedErrors(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 10
	cfg.MaxSameErrorType = 3

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("deadlock detected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error")
	assert.Equal(t, 3, calls)
}
