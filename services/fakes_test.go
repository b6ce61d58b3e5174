package services

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"ai-tutor-platform/internal/database"
	"ai-tutor-platform/internal/vectorstore"
	"ai-tutor-platform/models"
)

const (
	testNamespace = "test-ns"
	testDimension = 64
)

// bagOfWordsEmbedder hashes lowercase words into a fixed number of buckets,
// so texts sharing vocabulary land close together.
type bagOfWordsEmbedder struct {
	mu         sync.Mutex
	docCalls   int
	queryCalls int
	err        error
	drop       int
}

func embedText(text string) []float32 {
	vec := make([]float32, testDimension)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%testDimension]++
	}
	return vec
}

func (e *bagOfWordsEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.docCalls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, embedText(t))
	}
	return out[:len(out)-e.drop], nil
}

func (e *bagOfWordsEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queryCalls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return embedText(text), nil
}

func (e *bagOfWordsEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docCalls + e.queryCalls
}

// countingStore wraps a MemoryStore, counts calls and injects failures.
type countingStore struct {
	*vectorstore.MemoryStore
	mu          sync.Mutex
	upserts     int
	queries     int
	deletes     int
	upsertErr   error
	ignoreScope bool
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: vectorstore.NewMemoryStore(testDimension)}
}

func (s *countingStore) Upsert(ctx context.Context, namespace string, records []models.VectorRecord) error {
	s.mu.Lock()
	s.upserts++
	err := s.upsertErr
	s.mu.Unlock()
	if err != nil {
		// Land half the batch to look like a partial write.
		_ = s.MemoryStore.Upsert(ctx, namespace, records[:len(records)/2])
		return err
	}
	return s.MemoryStore.Upsert(ctx, namespace, records)
}

func (s *countingStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter map[string]string) ([]models.VectorMatch, error) {
	s.mu.Lock()
	s.queries++
	ignore := s.ignoreScope
	s.mu.Unlock()
	if ignore {
		filter = nil
	}
	return s.MemoryStore.Query(ctx, namespace, vector, k, filter)
}

func (s *countingStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.MemoryStore.DeleteByDocument(ctx, namespace, documentID)
}

func (s *countingStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts + s.queries + s.deletes
}

type stubGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	system  string
	prompts []string
}

func (g *stubGenerator) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system = systemPrompt
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type stubFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	block bool
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

// pagesExtractor ignores the bytes and returns fixed page texts.
type pagesExtractor struct {
	pages []string
	err   error
	calls int
}

func (e *pagesExtractor) Extract(ctx context.Context, content []byte) (*ExtractionResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return assemblePages("stub", e.pages), nil
}

// flakyStatusStore fails CompleteAttempt on demand.
type flakyStatusStore struct {
	*database.MemoryStatusStore
	completeErr error
}

func (s *flakyStatusStore) CompleteAttempt(ctx context.Context, pdfID, attemptID string, update models.StatusUpdate) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.MemoryStatusStore.CompleteAttempt(ctx, pdfID, attemptID, update)
}

type testEnv struct {
	deps      *PipelineDependencies
	embedder  *bagOfWordsEmbedder
	store     *countingStore
	generator *stubGenerator
	fetcher   *stubFetcher
	extractor *pagesExtractor
	status    *flakyStatusStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		embedder:  &bagOfWordsEmbedder{},
		store:     newCountingStore(),
		generator: &stubGenerator{answer: "Plants turn light into chemical energy."},
		fetcher:   &stubFetcher{body: []byte("%PDF-1.4 stub")},
		extractor: &pagesExtractor{pages: threePages()},
		status:    &flakyStatusStore{MemoryStatusStore: database.NewMemoryStatusStore()},
	}
	settings := DefaultPipelineSettings()
	settings.Namespace = testNamespace
	settings.ProviderTimeout = 5 * time.Second
	settings.IngestionLease = time.Minute

	env.deps = &PipelineDependencies{
		Embedder:    env.embedder,
		VectorStore: env.store,
		Generator:   env.generator,
		Fetcher:     env.fetcher,
		Extractor:   env.extractor,
		StatusStore: env.status,
		Settings:    settings,
	}
	return env
}

func (e *testEnv) ingestion(t *testing.T) *IngestionPipeline {
	t.Helper()
	p, err := NewIngestionPipeline(e.deps)
	if err != nil {
		t.Fatalf("NewIngestionPipeline: %v", err)
	}
	return p
}

func (e *testEnv) retrieval(t *testing.T) *RetrievalPipeline {
	t.Helper()
	p, err := NewRetrievalPipeline(e.deps)
	if err != nil {
		t.Fatalf("NewRetrievalPipeline: %v", err)
	}
	return p
}

func repeatSentence(sentence string, chars int) string {
	var sb strings.Builder
	for sb.Len() < chars {
		sb.WriteString(sentence)
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}

func threePages() []string {
	return []string{
		repeatSentence("Photosynthesis converts sunlight water and carbon dioxide into glucose inside chloroplasts.", 900),
		repeatSentence("Mitochondria release energy from glucose through cellular respiration and produce ATP.", 900),
		repeatSentence("Enzymes are proteins that lower activation energy and speed up biochemical reactions.", 900),
	}
}

var errProviderDown = errors.New("provider unavailable")
