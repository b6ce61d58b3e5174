package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-tutor-platform/models"

	"github.com/google/uuid"
)

// MemoryStatusStore has the same claim semantics as MongoStatusStore,
// held in a map. It backs the memory vector store provider when MONGO_URI
// is unset.
type MemoryStatusStore struct {
	mu   sync.Mutex
	docs map[string]*models.SourceDocument
	now  func() time.Time
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{
		docs: make(map[string]*models.SourceDocument),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *MemoryStatusStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put stores doc as-is, overwriting any existing record.
func (s *MemoryStatusStore) Put(doc models.SourceDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = &doc
}

func (s *MemoryStatusStore) BeginAttempt(ctx context.Context, doc models.SourceDocument, lease time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, ok := s.docs[doc.ID]
	if !ok {
		current = &models.SourceDocument{ID: doc.ID, FileURL: doc.FileURL, Title: doc.Title}
		s.docs[doc.ID] = current
	}
	if current.ProcessingState == models.StateProcessing &&
		current.LeaseExpiresAt != nil && current.LeaseExpiresAt.After(now) {
		return "", models.ErrIngestionInProgress
	}

	expires := now.Add(lease)
	current.ProcessingState = models.StateProcessing
	current.AttemptID = uuid.NewString()
	current.LeaseExpiresAt = &expires
	return current.AttemptID, nil
}

func (s *MemoryStatusStore) CompleteAttempt(ctx context.Context, pdfID, attemptID string, update models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[pdfID]
	if !ok || current.AttemptID != attemptID {
		return fmt.Errorf("document %s attempt %s: %w", pdfID, attemptID, models.ErrAttemptSuperseded)
	}

	processedAt := update.ProcessedAt
	current.ProcessingState = update.State
	current.ContentProcessed = update.ContentProcessed
	current.ProcessingError = update.ProcessingError
	current.ProcessedAt = &processedAt
	current.ChunkCount = update.ChunkCount
	current.PageCount = update.PageCount
	current.LeaseExpiresAt = nil
	return nil
}

func (s *MemoryStatusStore) Get(ctx context.Context, pdfID string) (*models.SourceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[pdfID]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	doc := *current
	return &doc, nil
}

func (s *MemoryStatusStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	msg := LeaseExpiredMessage
	for _, doc := range s.docs {
		if doc.ProcessingState != models.StateProcessing || doc.LeaseExpiresAt == nil || doc.LeaseExpiresAt.After(now) {
			continue
		}
		processedAt := now
		doc.ProcessingState = models.StateFailed
		doc.ContentProcessed = false
		doc.ProcessingError = &msg
		doc.ProcessedAt = &processedAt
		doc.LeaseExpiresAt = nil
		expired++
	}
	return expired, nil
}
