package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/models"
	"ai-tutor-platform/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// vectorIDSpace namespaces the deterministic vector ids (UUIDv5).
var vectorIDSpace = uuid.MustParse("6f1c0d3a-52e4-4c1e-9d8b-2a7f4e0b9c11")

// VectorID is the id of chunk index i of a document. Re-ingesting the same
// document writes the same ids.
func VectorID(documentID string, index int) string {
	return uuid.NewSHA1(vectorIDSpace, []byte(fmt.Sprintf("%s:%d", documentID, index))).String()
}

type IngestRequest struct {
	PDFID   string
	FileURL string
	Title   string
}

type IngestResult struct {
	PDFID    string
	Chunks   int
	Pages    int
	Duration time.Duration
}

// IngestionPipeline turns one source PDF into vector records and records
// the outcome on the source document.
type IngestionPipeline struct {
	deps    *PipelineDependencies
	chunker *TextChunker
	now     func() time.Time
}

func NewIngestionPipeline(deps *PipelineDependencies) (*IngestionPipeline, error) {
	if err := deps.IngestionConfigError(); err != nil {
		return nil, err
	}
	if deps.Settings.Namespace == "" {
		return nil, NewConfigurationError("ingestion", []string{"VECTOR_NAMESPACE"})
	}
	return &IngestionPipeline{
		deps:    deps,
		chunker: NewTextChunker(deps.Settings.ChunkSize, deps.Settings.ChunkOverlap),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// ingestionRun carries the data handed from one stage to the next.
type ingestionRun struct {
	req        IngestRequest
	log        *slog.Logger
	content    []byte
	extraction *ExtractionResult
	chunks     []models.Chunk
}

// ValidateIngestRequest rejects a request with empty fields before any
// external call is made.
func ValidateIngestRequest(req IngestRequest) error {
	return requireFields("pdfId", req.PDFID, "fileUrl", req.FileURL, "title", req.Title)
}

func (p *IngestionPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := ValidateIngestRequest(req); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("ingestion").Start(ctx, "ingestion.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("pdf.id", req.PDFID))

	run := &ingestionRun{req: req, log: logger.With("pdf_id", req.PDFID)}
	started := p.now()

	attemptID, err := p.deps.StatusStore.BeginAttempt(ctx, models.SourceDocument{
		ID:      req.PDFID,
		FileURL: req.FileURL,
		Title:   req.Title,
	}, p.deps.Settings.IngestionLease)
	if err != nil {
		if errors.Is(err, models.ErrIngestionInProgress) {
			run.log.Info("ingestion rejected, another attempt holds the document")
			return nil, newPipelineError(KindConflict, "claim", req.PDFID, err)
		}
		run.log.Error("failed to claim document", "error", err)
		return nil, newPipelineError(KindStorage, "claim", req.PDFID, err)
	}

	outcome := p.run(ctx, run)
	duration := p.now().Sub(started)
	update := StatusUpdateFor(outcome, p.now())

	span.SetAttributes(attribute.String("ingestion.state", outcome.State.String()))
	p.deps.Metrics.RecordIngestion(ctx, duration.Seconds(), outcome.State.String(), outcome.Chunks)

	if outcome.State == StateFailed {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
		run.log.Error("ingestion failed", "stage", outcome.FailedAt.String(), "error", outcome.Err)
		p.recordFailure(ctx, run, attemptID, update)
		return nil, outcome.Err
	}

	if err := p.recordStatus(ctx, req.PDFID, attemptID, update); err != nil {
		run.log.Error("failed to record ingestion success", "error", err)
		return nil, newPipelineError(KindStorage, "mark_success", req.PDFID, err)
	}

	run.log.Info("ingestion succeeded", "chunks", outcome.Chunks, "pages", outcome.Pages, "duration", duration.String())
	return &IngestResult{
		PDFID:    req.PDFID,
		Chunks:   outcome.Chunks,
		Pages:    outcome.Pages,
		Duration: duration,
	}, nil
}

// run drives the state machine until it reaches a terminal state.
func (p *IngestionPipeline) run(ctx context.Context, run *ingestionRun) IngestionOutcome {
	state := StateFetching
	for !state.Terminal() {
		run.log.Debug("ingestion stage", "stage", state.String())
		err := p.runStage(ctx, state, run)
		next := NextState(state, err)
		if next == StateFailed {
			return IngestionOutcome{State: StateFailed, FailedAt: state, Err: err}
		}
		state = next
	}

	pages := 0
	if run.extraction != nil {
		pages = run.extraction.Pages()
	}
	return IngestionOutcome{State: state, Chunks: len(run.chunks), Pages: pages}
}

func (p *IngestionPipeline) runStage(ctx context.Context, state IngestionState, run *ingestionRun) error {
	switch state {
	case StateFetching:
		return p.fetch(ctx, run)
	case StateExtracting:
		return p.extract(ctx, run)
	case StateChunking:
		return p.chunk(run)
	case StateEmbedding:
		return p.embedAndUpsert(ctx, run)
	}
	return fmt.Errorf("no stage handler for state %s", state)
}

func (p *IngestionPipeline) fetch(ctx context.Context, run *ingestionRun) error {
	cctx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	defer cancel()

	content, err := p.deps.Fetcher.Fetch(cctx, run.req.FileURL)
	if err != nil {
		return newPipelineError(KindFetch, StateFetching.String(), run.req.PDFID, err)
	}
	run.content = content
	return nil
}

func (p *IngestionPipeline) extract(ctx context.Context, run *ingestionRun) error {
	cctx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	defer cancel()

	result, err := p.deps.Extractor.Extract(cctx, run.content)
	run.content = nil
	if err != nil {
		return newPipelineError(KindExtraction, StateExtracting.String(), run.req.PDFID,
			fmt.Errorf("could not extract text from PDF: %w", err))
	}
	if result == nil || strings.TrimSpace(result.Text) == "" {
		return newPipelineError(KindExtraction, StateExtracting.String(), run.req.PDFID,
			errors.New("no extractable text found in PDF"))
	}
	run.extraction = result
	return nil
}

func (p *IngestionPipeline) chunk(run *ingestionRun) error {
	chunks := p.chunker.Chunk(run.extraction.Text)
	if len(chunks) == 0 {
		return newPipelineError(KindExtraction, StateChunking.String(), run.req.PDFID,
			errors.New("no extractable text found in PDF"))
	}

	for i := range chunks {
		chunks[i].Metadata = map[string]any{
			models.MetaDocumentID:    run.req.PDFID,
			models.MetaDocumentTitle: run.req.Title,
			models.MetaSourceURL:     run.req.FileURL,
			models.MetaChunkIndex:    chunks[i].Index,
			models.MetaPageNumber:    run.extraction.PageAt(chunks[i].Start),
		}
	}
	run.chunks = chunks
	return nil
}

// embedAndUpsert is all-or-nothing: nothing is written until every chunk has
// a vector, and a failed upsert removes whatever part of it landed.
func (p *IngestionPipeline) embedAndUpsert(ctx context.Context, run *ingestionRun) error {
	stage := StateEmbedding.String()
	pdfID := run.req.PDFID
	namespace := p.deps.Settings.Namespace

	texts := make([]string, len(run.chunks))
	for i, c := range run.chunks {
		texts[i] = c.Text
	}

	ectx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	vectors, err := p.deps.Embedder.EmbedDocuments(ectx, texts)
	cancel()
	if err != nil {
		p.deps.Metrics.RecordProviderError(ctx, "embedding")
		return newPipelineError(KindProvider, stage, pdfID, fmt.Errorf("embedding failed: %w", err))
	}
	if len(vectors) != len(run.chunks) {
		return newPipelineError(KindProvider, stage, pdfID,
			fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(vectors), len(run.chunks)))
	}

	records := make([]models.VectorRecord, len(run.chunks))
	for i, c := range run.chunks {
		records[i] = models.VectorRecord{
			ID:       VectorID(pdfID, c.Index),
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: c.Metadata,
		}
	}

	// Replace, never accumulate: vectors from earlier attempts go first.
	dctx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	err = p.deps.VectorStore.DeleteByDocument(dctx, namespace, pdfID)
	cancel()
	if err != nil {
		p.deps.Metrics.RecordProviderError(ctx, "vector_delete")
		return newPipelineError(KindProvider, stage, pdfID, fmt.Errorf("clearing previous vectors failed: %w", err))
	}

	uctx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	err = p.deps.VectorStore.Upsert(uctx, namespace, records)
	cancel()
	if err != nil {
		p.deps.Metrics.RecordProviderError(ctx, "vector_upsert")
		p.rollback(ctx, run)
		return newPipelineError(KindProvider, stage, pdfID, fmt.Errorf("vector upsert failed: %w", err))
	}
	return nil
}

func (p *IngestionPipeline) rollback(ctx context.Context, run *ingestionRun) {
	rctx, cancel := utils.Detached(ctx)
	defer cancel()
	if err := p.deps.VectorStore.DeleteByDocument(rctx, p.deps.Settings.Namespace, run.req.PDFID); err != nil {
		run.log.Warn("failed to remove partial upsert", "error", err)
	}
}

func (p *IngestionPipeline) recordStatus(ctx context.Context, pdfID, attemptID string, update models.StatusUpdate) error {
	sctx, cancel := utils.Detached(ctx)
	defer cancel()
	return p.deps.StatusStore.CompleteAttempt(sctx, pdfID, attemptID, update)
}

// recordFailure is best effort. Its own error is logged and dropped so the
// caller still sees the error that failed the attempt.
func (p *IngestionPipeline) recordFailure(ctx context.Context, run *ingestionRun, attemptID string, update models.StatusUpdate) {
	if err := p.recordStatus(ctx, run.req.PDFID, attemptID, update); err != nil {
		run.log.Warn("failed to record ingestion failure", "error", err)
	}
}
