package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = Policy{InitialInterval: time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Millisecond, MaxTries: 3}

func TestDo_RetriesServerErrorsUpToMaxTries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, &StatusError{Op: "test", Status: http.StatusBadGateway}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy, "test", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NoResponse("test", errors.New("connection reset"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryPermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "client side", err: ClientSide("test", errors.New("bad url"))},
		{name: "not found", err: &StatusError{Op: "test", Status: http.StatusNotFound}},
		{name: "bad request", err: &StatusError{Op: "test", Status: http.StatusBadRequest}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := Do(context.Background(), fastPolicy, "test", func(ctx context.Context) (struct{}, error) {
				calls++
				return struct{}{}, tt.err
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(NoResponse("x", errors.New("eof"))))
	assert.True(t, Retryable(&StatusError{Status: http.StatusTooManyRequests}))
	assert.True(t, Retryable(&StatusError{Status: http.StatusServiceUnavailable}))
	assert.False(t, Retryable(&StatusError{Status: http.StatusUnauthorized}))
}

func TestFixed_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := Fixed(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not ready")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFixed_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Fixed(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})

	require.EqualError(t, err, "still failing")
	assert.Equal(t, 3, calls)
}

func TestFixed_StopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Fixed(ctx, 5, time.Hour, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("not ready")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
