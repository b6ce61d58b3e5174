package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"ai-tutor-platform/models"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// MemoryStore is an in-process vector store using brute-force cosine
// similarity. Used for local development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	dimension  int
	namespaces map[string]map[string]models.VectorRecord
}

// NewMemoryStore creates a store. A dimension of 0 is fixed by the first upsert.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension:  dimension,
		namespaces: make(map[string]map[string]models.VectorRecord),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, namespace string, records []models.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 && len(records) > 0 {
		s.dimension = len(records[0].Vector)
	}
	if err := validateRecords(records, s.dimension); err != nil {
		return err
	}

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]models.VectorRecord)
		s.namespaces[namespace] = ns
	}
	for _, rec := range records {
		ns[rec.ID] = cloneRecord(rec)
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter map[string]string) ([]models.VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	if k <= 0 {
		k = 5
	}

	var matches []models.VectorMatch
	for _, rec := range s.namespaces[namespace] {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		matches = append(matches, models.VectorMatch{
			ID:       rec.ID,
			Score:    cosine(rec.Vector, vector),
			Text:     rec.Text,
			Metadata: cloneMetadata(rec.Metadata),
		})
	}

	// Ties are broken by id so results are stable between calls.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.namespaces[namespace] {
		if rec.DocumentID() == documentID {
			delete(s.namespaces[namespace], id)
		}
	}
	return nil
}

// Count returns the number of records stored for a document.
func (s *MemoryStore) Count(namespace, documentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.namespaces[namespace] {
		if documentID == "" || rec.DocumentID() == documentID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error { return nil }

// validateRecords enforces the documentId invariant and vector dimensions.
func validateRecords(records []models.VectorRecord, dimension int) error {
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("vector record has no id")
		}
		if rec.DocumentID() == "" {
			return fmt.Errorf("record %s: %w", rec.ID, models.ErrMissingDocumentID)
		}
		if dimension > 0 && len(rec.Vector) != dimension {
			return fmt.Errorf("%w: record %s has %d dimensions, expected %d",
				ErrDimensionMismatch, rec.ID, len(rec.Vector), dimension)
		}
	}
	return nil
}

func matchesFilter(metadata map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		if got, ok := metadata[key].(string); !ok || got != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func cloneRecord(rec models.VectorRecord) models.VectorRecord {
	vector := make([]float32, len(rec.Vector))
	copy(vector, rec.Vector)
	rec.Vector = vector
	rec.Metadata = cloneMetadata(rec.Metadata)
	return rec
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
