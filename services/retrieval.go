package services

import (
	"context"
	"fmt"
	"strings"

	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/models"
	"ai-tutor-platform/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTopK   = 5
	SnippetLength = 300

	// NotFoundPhrase is the exact reply the model is told to give when the
	// context does not contain the answer.
	NotFoundPhrase = "I could not find the answer to this question in the provided context."
)

const answerSystemPrompt = `You are a study assistant that answers questions about a single document.
Rules:
- Answer strictly from the context supplied with the question. Do not use outside knowledge.
- If the context does not contain the answer, reply with exactly: "` + NotFoundPhrase + `"
- If the question is unrelated to the document, politely decline and reply with the sentence above.
- Be concise. Quote the context where it helps.`

type AnswerRequest struct {
	Question string
	PDFID    string
	PDFTitle string
}

type AnswerResult struct {
	Answer   string
	Sources  []models.Source
	Grounded bool
}

// RetrievalPipeline answers questions from the vectors of one document.
type RetrievalPipeline struct {
	deps *PipelineDependencies
	topK int
}

func NewRetrievalPipeline(deps *PipelineDependencies) (*RetrievalPipeline, error) {
	if err := deps.RetrievalConfigError(); err != nil {
		return nil, err
	}
	if deps.Settings.Namespace == "" {
		return nil, NewConfigurationError("retrieval", []string{"VECTOR_NAMESPACE"})
	}
	topK := deps.Settings.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &RetrievalPipeline{deps: deps, topK: topK}, nil
}

func (p *RetrievalPipeline) Answer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	if err := requireFields("question", req.Question, "pdfId", req.PDFID, "pdfTitle", req.PDFTitle); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("retrieval").Start(ctx, "retrieval.answer")
	defer span.End()
	span.SetAttributes(attribute.String("pdf.id", req.PDFID))

	log := logger.With("pdf_id", req.PDFID)

	matches, err := p.retrieve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("retrieval failed", "stage", AsPipelineError(err).Stage, "error", err)
		return nil, err
	}

	if len(matches) == 0 {
		log.Info("no indexed content for document")
		p.deps.Metrics.RecordAnswer(ctx, false)
		return &AnswerResult{Answer: NotFoundPhrase, Sources: []models.Source{}}, nil
	}

	gctx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	answer, err := p.deps.Generator.Generate(gctx, answerSystemPrompt, BuildAnswerPrompt(req.PDFTitle, req.Question, matches))
	cancel()
	if err != nil {
		p.deps.Metrics.RecordProviderError(ctx, "generation")
		perr := newPipelineError(KindProvider, "generation", req.PDFID, fmt.Errorf("answer generation failed: %w", err))
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		log.Error("generation failed", "stage", "generation", "error", err)
		return nil, perr
	}

	answer = strings.TrimSpace(answer)
	grounded := !strings.Contains(answer, NotFoundPhrase)
	p.deps.Metrics.RecordAnswer(ctx, grounded)
	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)), attribute.Bool("answer.grounded", grounded))

	return &AnswerResult{
		Answer:   answer,
		Sources:  buildSources(matches),
		Grounded: grounded,
	}, nil
}

// retrieve embeds the question and returns the nearest chunks of the
// requested document, in index order.
func (p *RetrievalPipeline) retrieve(ctx context.Context, req AnswerRequest) ([]models.VectorMatch, error) {
	ectx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	vector, err := p.deps.Embedder.EmbedQuery(ectx, req.Question)
	cancel()
	if err != nil {
		p.deps.Metrics.RecordProviderError(ctx, "embedding")
		return nil, newPipelineError(KindProvider, "embedding", req.PDFID, fmt.Errorf("question embedding failed: %w", err))
	}

	qctx, cancel := utils.WithCustomTimeout(ctx, p.deps.Settings.ProviderTimeout)
	matches, err := p.deps.VectorStore.Query(qctx, p.deps.Settings.Namespace, vector, p.topK,
		map[string]string{models.MetaDocumentID: req.PDFID})
	cancel()
	if err != nil {
		p.deps.Metrics.RecordProviderError(ctx, "vector_query")
		return nil, newPipelineError(KindProvider, "vector_query", req.PDFID, fmt.Errorf("vector query failed: %w", err))
	}

	// The index filter already scopes by document. Matches without the
	// right documentId are dropped so a misbehaving store cannot leak
	// another document into the answer.
	scoped := matches[:0]
	for _, m := range matches {
		if m.DocumentID() == req.PDFID {
			scoped = append(scoped, m)
		}
	}
	if len(scoped) < len(matches) {
		logger.Warn("dropped matches from other documents", "pdf_id", req.PDFID, "dropped", len(matches)-len(scoped))
	}
	return scoped, nil
}

// BuildAnswerPrompt assembles the user prompt: the document title, the
// retrieved chunks in order, then the question.
func BuildAnswerPrompt(title, question string, matches []models.VectorMatch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s\n\n", title)
	sb.WriteString("Context:\n")
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(strings.TrimSpace(m.Text))
	}
	fmt.Fprintf(&sb, "\n\nQuestion: %s\n\nAnswer:", strings.TrimSpace(question))
	return sb.String()
}

func buildSources(matches []models.VectorMatch) []models.Source {
	sources := make([]models.Source, len(matches))
	for i, m := range matches {
		sources[i] = models.Source{
			PageContent: Snippet(m.Text, SnippetLength),
			Metadata:    m.Metadata,
		}
	}
	return sources
}

// Snippet returns the first n runes of text, with "..." appended when
// anything was cut.
func Snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
