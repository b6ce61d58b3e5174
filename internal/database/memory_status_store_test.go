package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-tutor-platform/models"
)

func TestMemoryStatusStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStatusStore()
	s.SetClock(func() time.Time { return now })

	first, err := s.BeginAttempt(ctx, models.SourceDocument{ID: "pdf-1", Title: "T"}, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	_, err = s.BeginAttempt(ctx, models.SourceDocument{ID: "pdf-1"}, time.Minute)
	assert.ErrorIs(t, err, models.ErrIngestionInProgress)

	// Once the lease lapses the document can be claimed again.
	now = now.Add(2 * time.Minute)
	second, err := s.BeginAttempt(ctx, models.SourceDocument{ID: "pdf-1"}, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The superseded attempt can no longer write its outcome.
	err = s.CompleteAttempt(ctx, "pdf-1", first, models.StatusUpdate{State: models.StateSucceeded, ContentProcessed: true})
	assert.ErrorIs(t, err, models.ErrAttemptSuperseded)

	require.NoError(t, s.CompleteAttempt(ctx, "pdf-1", second, models.StatusUpdate{
		State:            models.StateSucceeded,
		ContentProcessed: true,
		ProcessedAt:      now,
		ChunkCount:       4,
		PageCount:        2,
	}))

	doc, err := s.Get(ctx, "pdf-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, doc.ProcessingState)
	assert.True(t, doc.ContentProcessed)
	assert.Nil(t, doc.LeaseExpiresAt)
	assert.Equal(t, 4, doc.ChunkCount)
	assert.Equal(t, "T", doc.Title)
}

func TestMemoryStatusStore_FinishedDocumentCanBeReclaimed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatusStore()

	id, err := s.BeginAttempt(ctx, models.SourceDocument{ID: "pdf-1"}, time.Hour)
	require.NoError(t, err)
	msg := "boom"
	require.NoError(t, s.CompleteAttempt(ctx, "pdf-1", id, models.StatusUpdate{State: models.StateFailed, ProcessingError: &msg}))

	_, err = s.BeginAttempt(ctx, models.SourceDocument{ID: "pdf-1"}, time.Hour)
	assert.NoError(t, err)
}

func TestMemoryStatusStore_ExpireStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStatusStore()
	s.SetClock(func() time.Time { return now })

	_, err := s.BeginAttempt(ctx, models.SourceDocument{ID: "stale"}, time.Minute)
	require.NoError(t, err)
	_, err = s.BeginAttempt(ctx, models.SourceDocument{ID: "fresh"}, time.Hour)
	require.NoError(t, err)
	s.Put(models.SourceDocument{ID: "done", ProcessingState: models.StateSucceeded, ContentProcessed: true})

	n, err := s.ExpireStale(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := s.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, stale.ProcessingState)
	require.NotNil(t, stale.ProcessingError)
	assert.Equal(t, LeaseExpiredMessage, *stale.ProcessingError)

	fresh, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessing, fresh.ProcessingState)

	done, err := s.Get(ctx, "done")
	require.NoError(t, err)
	assert.True(t, done.ContentProcessed)
}

func TestMemoryStatusStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStatusStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}
