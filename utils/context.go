package utils

import (
	"context"
	"time"
)

const (
	// DefaultTimeout is the default timeout for most database operations
	DefaultTimeout = 10 * time.Second

	// LongTimeout is for vector index maintenance (collection setup, bulk deletes)
	LongTimeout = 30 * time.Second

	// ShortTimeout is for quick operations (health pings, status reads)
	ShortTimeout = 2 * time.Second
)

// WithTimeout creates a context with default timeout
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

// WithLongTimeout creates a context with long timeout for operations that may take longer
func WithLongTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, LongTimeout)
}

// WithShortTimeout creates a context with short timeout for quick operations
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithCustomTimeout creates a context with custom timeout duration.
// A non-positive duration returns a plain cancelable context.
func WithCustomTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, duration)
}

// Detached keeps the values of parent (trace spans, request ids) but not its
// cancellation, bounded by DefaultTimeout. Used for bookkeeping writes that
// must land even when the request that triggered them has gone away.
func Detached(parent context.Context) (context.Context, context.CancelFunc) {
	return WithTimeout(context.WithoutCancel(parent))
}
