package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-tutor-platform/models"
)

func record(id, doc string, vec ...float32) models.VectorRecord {
	return models.VectorRecord{
		ID:       id,
		Vector:   vec,
		Text:     "text of " + id,
		Metadata: map[string]any{models.MetaDocumentID: doc, models.MetaChunkIndex: 0},
	}
}

func TestMemoryStore_QueryRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	require.NoError(t, s.Upsert(ctx, "ns", []models.VectorRecord{
		record("a1", "a", 1, 0),
		record("a2", "a", 0.7, 0.7),
		record("b1", "b", 1, 0.01),
	}))

	all, err := s.Query(ctx, "ns", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a1", all[0].ID)
	assert.Equal(t, "b1", all[1].ID)

	scoped, err := s.Query(ctx, "ns", []float32{1, 0}, 10, map[string]string{models.MetaDocumentID: "a"})
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	for _, m := range scoped {
		assert.Equal(t, "a", m.DocumentID())
	}

	top1, err := s.Query(ctx, "ns", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, top1, 1)

	other, err := s.Query(ctx, "other-ns", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryStore_UpsertOverwritesByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	require.NoError(t, s.Upsert(ctx, "ns", []models.VectorRecord{record("x", "d", 1, 0, 0)}))
	require.NoError(t, s.Upsert(ctx, "ns", []models.VectorRecord{record("x", "d", 0, 1, 0)}))
	assert.Equal(t, 1, s.Count("ns", "d"))

	m, err := s.Query(ctx, "ns", []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m[0].Score, 1e-6)
}

func TestMemoryStore_RejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	noDoc := record("n", "", 1, 0)
	assert.ErrorIs(t, s.Upsert(ctx, "ns", []models.VectorRecord{noDoc}), models.ErrMissingDocumentID)
	assert.ErrorIs(t, s.Upsert(ctx, "ns", []models.VectorRecord{record("w", "d", 1, 0, 0)}), ErrDimensionMismatch)

	_, err := s.Query(ctx, "ns", []float32{1}, 5, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Zero(t, s.Count("ns", ""))
}

func TestMemoryStore_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	require.NoError(t, s.Upsert(ctx, "ns", []models.VectorRecord{
		record("a1", "a", 1, 0),
		record("a2", "a", 0, 1),
		record("b1", "b", 1, 1),
	}))

	require.NoError(t, s.DeleteByDocument(ctx, "ns", "a"))
	assert.Zero(t, s.Count("ns", "a"))
	assert.Equal(t, 1, s.Count("ns", "b"))

	require.NoError(t, s.DeleteByDocument(ctx, "ns", "missing"))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	rec := record("a1", "a", 1, 0)
	require.NoError(t, s.Upsert(ctx, "ns", []models.VectorRecord{rec}))

	rec.Metadata[models.MetaDocumentID] = "tampered"
	m, err := s.Query(ctx, "ns", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", m[0].DocumentID())
}
