package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-tutor-platform/services"
)

type fakeIngester struct {
	got services.IngestRequest
	err error
}

func (f *fakeIngester) Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &services.IngestResult{PDFID: req.PDFID, Chunks: 4, Pages: 2}, nil
}

func ingestTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewIngestTask(services.IngestRequest{PDFID: "pdf-1", FileURL: "https://f/x.pdf", Title: "Notes"})
	require.NoError(t, err)
	return task
}

func TestNewIngestTask(t *testing.T) {
	task := ingestTask(t)
	assert.Equal(t, TaskIngestPDF, task.Type())

	var payload IngestPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, IngestPayload{PDFID: "pdf-1", FileURL: "https://f/x.pdf", Title: "Notes"}, payload)
}

func TestProcessIngestion(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ing := &fakeIngester{}
		require.NoError(t, NewTaskProcessor(ing).ProcessIngestion(ctx, ingestTask(t)))
		assert.Equal(t, "pdf-1", ing.got.PDFID)
		assert.Equal(t, "Notes", ing.got.Title)
	})

	t.Run("permanent failure skips retry", func(t *testing.T) {
		ing := &fakeIngester{err: &services.PipelineError{Kind: services.KindExtraction, Err: errors.New("no extractable text found in PDF")}}
		err := NewTaskProcessor(ing).ProcessIngestion(ctx, ingestTask(t))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("conflict skips retry", func(t *testing.T) {
		ing := &fakeIngester{err: &services.PipelineError{Kind: services.KindConflict, Err: errors.New("in progress")}}
		err := NewTaskProcessor(ing).ProcessIngestion(ctx, ingestTask(t))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("provider failure is retried", func(t *testing.T) {
		ing := &fakeIngester{err: &services.PipelineError{Kind: services.KindProvider, Err: errors.New("503")}}
		err := NewTaskProcessor(ing).ProcessIngestion(ctx, ingestTask(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("bad payload", func(t *testing.T) {
		ing := &fakeIngester{}
		err := NewTaskProcessor(ing).ProcessIngestion(ctx, asynq.NewTask(TaskIngestPDF, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Empty(t, ing.got.PDFID)
	})
}
