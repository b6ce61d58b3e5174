package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-tutor-platform/models"
)

func ingestReq(id string) IngestRequest {
	return IngestRequest{PDFID: id, FileURL: "https://files.example.com/" + id + ".pdf", Title: "Biology Notes"}
}

func TestIngest_ThreePageDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.ingestion(t).Ingest(ctx, ingestReq("pdf-1"))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Chunks, 3)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, "pdf-1", result.PDFID)

	doc, err := env.status.Get(ctx, "pdf-1")
	require.NoError(t, err)
	assert.True(t, doc.ContentProcessed)
	assert.Nil(t, doc.ProcessingError)
	require.NotNil(t, doc.ProcessedAt)
	assert.Equal(t, models.StateSucceeded, doc.ProcessingState)
	assert.Nil(t, doc.LeaseExpiresAt)
	assert.Equal(t, result.Chunks, doc.ChunkCount)
	assert.Equal(t, 3, doc.PageCount)

	assert.Equal(t, result.Chunks, env.store.Count(testNamespace, "pdf-1"))
	assert.Equal(t, 1, env.embedder.docCalls, "all chunks are embedded in one call")
}

func TestIngest_MetadataScopedToDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.ingestion(t).Ingest(ctx, ingestReq("pdf-scope"))
	require.NoError(t, err)

	matches, err := env.store.MemoryStore.Query(ctx, testNamespace, embedText("energy"), 100, nil)
	require.NoError(t, err)
	require.Len(t, matches, result.Chunks)

	pages := map[int]bool{}
	for _, m := range matches {
		assert.Equal(t, "pdf-scope", m.DocumentID())
		assert.Equal(t, "Biology Notes", m.Metadata[models.MetaDocumentTitle])
		assert.Equal(t, "https://files.example.com/pdf-scope.pdf", m.Metadata[models.MetaSourceURL])
		pages[m.Metadata[models.MetaPageNumber].(int)] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, pages)
}

func TestIngest_EmptyTextIsRejected(t *testing.T) {
	for name, pages := range map[string][]string{
		"empty":      {""},
		"whitespace": {"   \n\t ", "\n\n"},
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.extractor.pages = pages
			ctx := context.Background()

			result, err := env.ingestion(t).Ingest(ctx, ingestReq("pdf-empty"))
			require.Error(t, err)
			assert.Nil(t, result)

			pe := AsPipelineError(err)
			assert.Equal(t, KindExtraction, pe.Kind)
			assert.Equal(t, http.StatusBadRequest, pe.HTTPStatus())

			doc, err := env.status.Get(ctx, "pdf-empty")
			require.NoError(t, err)
			assert.False(t, doc.ContentProcessed)
			require.NotNil(t, doc.ProcessingError)
			assert.Contains(t, *doc.ProcessingError, "no extractable text")
			assert.NotNil(t, doc.ProcessedAt)
			assert.Equal(t, models.StateFailed, doc.ProcessingState)

			assert.Zero(t, env.embedder.calls())
			assert.Zero(t, env.store.calls())
		})
	}
}

func TestIngest_MissingFieldsMakeNoExternalCalls(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ingestion(t).Ingest(context.Background(), IngestRequest{FileURL: "https://x/y.pdf", Title: "T"})
	require.Error(t, err)

	pe := AsPipelineError(err)
	assert.Equal(t, KindValidation, pe.Kind)
	assert.Equal(t, http.StatusBadRequest, pe.HTTPStatus())
	assert.Contains(t, pe.Message(), "pdfId")

	assert.Zero(t, env.fetcher.calls)
	assert.Zero(t, env.embedder.calls())
	assert.Zero(t, env.store.calls())

	_, err = env.status.Get(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestIngest_FetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = errors.New("failed to download document: HTTP 404")

	_, err := env.ingestion(t).Ingest(context.Background(), ingestReq("pdf-404"))
	require.Error(t, err)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, AsPipelineError(err).HTTPStatus())
	assert.Zero(t, env.extractor.calls)

	doc, err := env.status.Get(context.Background(), "pdf-404")
	require.NoError(t, err)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, "HTTP 404")
}

func TestIngest_FetchTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.block = true
	env.deps.Settings.ProviderTimeout = 20 * time.Millisecond

	_, err := env.ingestion(t).Ingest(context.Background(), ingestReq("pdf-slow"))
	require.Error(t, err)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
}

func TestIngest_EmbeddingFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.err = errProviderDown

	_, err := env.ingestion(t).Ingest(context.Background(), ingestReq("pdf-embed"))
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))
	assert.ErrorIs(t, err, errProviderDown)

	assert.Zero(t, env.store.upserts)
	assert.Zero(t, env.store.Count(testNamespace, "pdf-embed"))

	doc, err := env.status.Get(context.Background(), "pdf-embed")
	require.NoError(t, err)
	assert.False(t, doc.ContentProcessed)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, "embedding failed")
}

func TestIngest_ShortEmbeddingBatchFails(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.drop = 1

	_, err := env.ingestion(t).Ingest(context.Background(), ingestReq("pdf-short"))
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))
	assert.Zero(t, env.store.upserts)
}

func TestIngest_UpsertFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.store.upsertErr = errProviderDown

	_, err := env.ingestion(t).Ingest(context.Background(), ingestReq("pdf-partial"))
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))

	assert.Zero(t, env.store.Count(testNamespace, "pdf-partial"), "partial upsert must be removed")
	assert.Equal(t, 2, env.store.deletes, "one delete before upsert and one rollback")
}

func TestIngest_FailureStatusWriteIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.err = errProviderDown
	env.status.completeErr = errors.New("mongo: connection reset")

	_, err := env.ingestion(t).Ingest(context.Background(), ingestReq("pdf-1"))
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err), "the original error is returned")
	assert.ErrorIs(t, err, errProviderDown)
}

func TestIngest_SuccessStatusWriteFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.status.completeErr = errors.New("mongo: connection reset")

	_, err := env.ingestion(t).Ingest(context.Background(), ingestReq("pdf-1"))
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))
}

func TestIngest_ConcurrentAttemptIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.status.BeginAttempt(ctx, models.SourceDocument{ID: "pdf-busy"}, time.Hour)
	require.NoError(t, err)

	_, err = env.ingestion(t).Ingest(ctx, ingestReq("pdf-busy"))
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, http.StatusConflict, AsPipelineError(err).HTTPStatus())
	assert.ErrorIs(t, err, models.ErrIngestionInProgress)
	assert.Zero(t, env.fetcher.calls)
}

func TestIngest_ExpiredLeaseCanBeReclaimed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.status.BeginAttempt(ctx, models.SourceDocument{ID: "pdf-stale"}, -time.Second)
	require.NoError(t, err)

	_, err = env.ingestion(t).Ingest(ctx, ingestReq("pdf-stale"))
	require.NoError(t, err)
}

func TestIngest_ReingestReplacesVectors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pipeline := env.ingestion(t)

	first, err := pipeline.Ingest(ctx, ingestReq("pdf-again"))
	require.NoError(t, err)
	second, err := pipeline.Ingest(ctx, ingestReq("pdf-again"))
	require.NoError(t, err)

	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, second.Chunks, env.store.Count(testNamespace, "pdf-again"))

	// A shorter second version must not leave stale tail chunks behind.
	env.extractor.pages = threePages()[:1]
	third, err := pipeline.Ingest(ctx, ingestReq("pdf-again"))
	require.NoError(t, err)
	assert.Less(t, third.Chunks, first.Chunks)
	assert.Equal(t, third.Chunks, env.store.Count(testNamespace, "pdf-again"))
}

func TestIngest_FailedDocumentCanBeRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pipeline := env.ingestion(t)

	env.embedder.err = errProviderDown
	_, err := pipeline.Ingest(ctx, ingestReq("pdf-retry"))
	require.Error(t, err)

	env.embedder.err = nil
	_, err = pipeline.Ingest(ctx, ingestReq("pdf-retry"))
	require.NoError(t, err)

	doc, err := env.status.Get(ctx, "pdf-retry")
	require.NoError(t, err)
	assert.True(t, doc.ContentProcessed)
	assert.Nil(t, doc.ProcessingError, "success clears the previous error")
}

func TestNewIngestionPipeline_ReportsMissingComponents(t *testing.T) {
	env := newTestEnv(t)
	env.deps.StatusStore = nil

	_, err := NewIngestionPipeline(env.deps)
	require.Error(t, err)
	pe := AsPipelineError(err)
	assert.Equal(t, KindConfiguration, pe.Kind)
	assert.Equal(t, http.StatusInternalServerError, pe.HTTPStatus())
	assert.Contains(t, pe.Message(), "status store")
}

func TestNewIngestionPipeline_ReportsMissingKeys(t *testing.T) {
	env := newTestEnv(t)
	env.deps.ingestionMissing = []string{"VECTOR_INDEX_NAME", "GEMINI_API_KEY"}

	_, err := NewIngestionPipeline(env.deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VECTOR_INDEX_NAME, GEMINI_API_KEY")
}

func TestVectorID_Deterministic(t *testing.T) {
	assert.Equal(t, VectorID("pdf-1", 0), VectorID("pdf-1", 0))
	assert.NotEqual(t, VectorID("pdf-1", 0), VectorID("pdf-1", 1))
	assert.NotEqual(t, VectorID("pdf-1", 0), VectorID("pdf-2", 0))
	assert.Len(t, VectorID("pdf-1", 0), 36)
}
