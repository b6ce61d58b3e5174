package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
)

// RetryPolicy bounds how long a rate-limited provider call is retried.
// The zero value disables retries: calls fail fast.
type RetryPolicy struct {
	MaxElapsed time.Duration
}

func (p RetryPolicy) enabled() bool { return p.MaxElapsed > 0 }

// IsRateLimited reports whether err is an HTTP 429 from Gemini or OpenAI.
func IsRateLimited(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusTooManyRequests
	}
	var oErr *openai.Error
	if errors.As(err, &oErr) {
		return oErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// withRateLimitRetry runs op, retrying with exponential backoff only while
// the provider answers 429. Any other error is returned immediately.
func withRateLimitRetry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	if !policy.enabled() {
		return op()
	}

	operation := func() (T, error) {
		result, err := op()
		if err != nil && !IsRateLimited(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = policy.MaxElapsed

	return backoff.RetryWithData(operation, backoff.WithContext(b, ctx))
}
