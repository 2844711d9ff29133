package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), zerolog.Nop(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_BoundedAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("timeout")
	err := Do(context.Background(), fastPolicy(3), zerolog.Nop(), func(context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	calls := 0
	sentinel := errors.New("unexpected shape")
	err := Do(context.Background(), fastPolicy(5), zerolog.Nop(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoWithData_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fastPolicy(2), zerolog.Nop(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("503")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{MaxAttempts: 10, InitialInterval: time.Second}, zerolog.Nop(), func(context.Context) error {
		return errors.New("transient")
	})
	require.Error(t, err)
}

func TestForStatus(t *testing.T) {
	base := errors.New("status")
	calls := 0
	_ = Do(context.Background(), fastPolicy(3), zerolog.Nop(), func(context.Context) error {
		calls++
		return ForStatus(http.StatusBadRequest, base)
	})
	assert.Equal(t, 1, calls, "4xx must not be retried")

	calls = 0
	_ = Do(context.Background(), fastPolicy(3), zerolog.Nop(), func(context.Context) error {
		calls++
		return ForStatus(http.StatusBadGateway, base)
	})
	assert.Equal(t, 3, calls, "5xx must be retried")

	calls = 0
	_ = Do(context.Background(), fastPolicy(2), zerolog.Nop(), func(context.Context) error {
		calls++
		return ForStatus(http.StatusTooManyRequests, base)
	})
	assert.Equal(t, 2, calls, "429 must be retried")
}
