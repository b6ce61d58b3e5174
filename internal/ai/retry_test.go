package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.True(t, IsRateLimited(fmt.Errorf("embed: %w", &googleapi.Error{Code: http.StatusTooManyRequests})))
	assert.False(t, IsRateLimited(&googleapi.Error{Code: http.StatusInternalServerError}))
	assert.False(t, IsRateLimited(errors.New("429 in the message only")))
	assert.False(t, IsRateLimited(nil))
}

func TestWithRateLimitRetry_DisabledFailsFast(t *testing.T) {
	calls := 0
	_, err := withRateLimitRetry(context.Background(), RetryPolicy{}, func() (int, error) {
		calls++
		return 0, &googleapi.Error{Code: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRateLimitRetry_RetriesOnly429(t *testing.T) {
	policy := RetryPolicy{MaxElapsed: 10 * time.Second}

	calls := 0
	got, err := withRateLimitRetry(context.Background(), policy, func() (string, error) {
		calls++
		if calls < 2 {
			return "", &googleapi.Error{Code: http.StatusTooManyRequests}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := &googleapi.Error{Code: http.StatusBadRequest, Message: "bad input"}
	_, err = withRateLimitRetry(context.Background(), policy, func() (string, error) {
		calls++
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-429 errors are not retried")
}

func TestWithRateLimitRetry_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := withRateLimitRetry(ctx, RetryPolicy{MaxElapsed: time.Minute}, func() (int, error) {
		calls++
		return 0, &googleapi.Error{Code: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestGetRateLimits(t *testing.T) {
	free := getRateLimits("free")
	paid := getRateLimits("tier1")
	assert.Greater(t, paid.RPM, free.RPM)
	assert.Equal(t, free, getRateLimits("unknown"))
}
