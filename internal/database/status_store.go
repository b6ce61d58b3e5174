package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-tutor-platform/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LeaseExpiredMessage is recorded on documents whose attempt outlived its lease.
const LeaseExpiredMessage = "ingestion lease expired before the attempt finished"

// MongoStatusStore records ingestion outcomes on source documents. A
// document may be claimed by one attempt at a time; the claim is a
// compare-and-swap on processingState guarded by a lease.
type MongoStatusStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoStatusStore(db *mongo.Database, collection string) *MongoStatusStore {
	return &MongoStatusStore{
		collection: db.Collection(collection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// BeginAttempt claims doc for a new ingestion attempt and returns the
// attempt id that fences the final status write. The document is created
// when it does not exist yet.
func (s *MongoStatusStore) BeginAttempt(ctx context.Context, doc models.SourceDocument, lease time.Duration) (string, error) {
	now := s.now()
	attemptID := uuid.NewString()

	filter := bson.M{
		"_id": doc.ID,
		"$or": bson.A{
			bson.M{"processingState": bson.M{"$ne": models.StateProcessing}},
			bson.M{"leaseExpiresAt": bson.M{"$lte": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"processingState": models.StateProcessing,
			"attemptId":       attemptID,
			"leaseExpiresAt":  now.Add(lease),
		},
		"$setOnInsert": bson.M{
			"fileUrl":          doc.FileURL,
			"title":            doc.Title,
			"contentProcessed": false,
			"processingError":  nil,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Err()
	if err != nil {
		// The filter missed an existing document, so the upsert collided on _id:
		// someone else holds an unexpired claim.
		if mongo.IsDuplicateKeyError(err) {
			return "", models.ErrIngestionInProgress
		}
		return "", fmt.Errorf("failed to claim document %s: %w", doc.ID, err)
	}
	return attemptID, nil
}

// CompleteAttempt writes the terminal status of an attempt. It only applies
// while attemptID still owns the document.
func (s *MongoStatusStore) CompleteAttempt(ctx context.Context, pdfID, attemptID string, update models.StatusUpdate) error {
	filter := bson.M{"_id": pdfID, "attemptId": attemptID}
	set := bson.M{
		"processingState":  update.State,
		"contentProcessed": update.ContentProcessed,
		"processingError":  update.ProcessingError,
		"processedAt":      update.ProcessedAt,
		"chunkCount":       update.ChunkCount,
		"pageCount":        update.PageCount,
	}

	res, err := s.collection.UpdateOne(ctx, filter, bson.M{
		"$set":   set,
		"$unset": bson.M{"leaseExpiresAt": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to record status for %s: %w", pdfID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("document %s attempt %s: %w", pdfID, attemptID, models.ErrAttemptSuperseded)
	}
	return nil
}

func (s *MongoStatusStore) Get(ctx context.Context, pdfID string) (*models.SourceDocument, error) {
	var doc models.SourceDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": pdfID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load document %s: %w", pdfID, err)
	}
	return &doc, nil
}

// ExpireStale fails every attempt whose lease ran out before it finished.
func (s *MongoStatusStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"processingState": models.StateProcessing,
		"leaseExpiresAt":  bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"processingState":  models.StateFailed,
			"contentProcessed": false,
			"processingError":  LeaseExpiredMessage,
			"processedAt":      now,
		},
		"$unset": bson.M{"leaseExpiresAt": ""},
	}

	res, err := s.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale attempts: %w", err)
	}
	return res.ModifiedCount, nil
}
