package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-tutor-platform/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

const (
	upsertBatchSize = 100

	// Reserved payload fields. Everything else in the payload is chunk metadata.
	payloadNamespace = "namespace"
	payloadText      = "text"
)

var ErrQdrantUnreachable = errors.New("qdrant unreachable")

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantStore keeps every namespace in one collection and partitions them
// by an indexed namespace payload field.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects over gRPC, waits for the server to answer a health
// check and makes sure the collection exists.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
	}

	if err := store.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error { return s.Health(ctx) }, backoff.WithContext(b, ctx))
}

func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection (cosine distance) and the keyword
// indexes used by filters. Idempotent.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{payloadNamespace, models.MetaDocumentID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []models.VectorRecord) error {
	if err := validateRecords(records, s.dimension); err != nil {
		return err
	}

	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, rec := range records[i:end] {
			payload, err := qdrant.TryValueMap(recordPayload(namespace, rec))
			if err != nil {
				return fmt.Errorf("record %s: invalid payload: %w", rec.ID, err)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(rec.ID),
				Vectors: qdrant.NewVectors(rec.Vector...),
				Payload: payload,
			})
		}

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter map[string]string) ([]models.VectorMatch, error) {
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         namespaceFilter(namespace, filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	matches := make([]models.VectorMatch, 0, len(results))
	for _, point := range results {
		text, metadata := splitPayload(point.Payload)
		matches = append(matches, models.VectorMatch{
			ID:       point.Id.GetUuid(),
			Score:    point.Score,
			Text:     text,
			Metadata: metadata,
		})
	}
	return matches, nil
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(namespaceFilter(namespace, map[string]string{
			models.MetaDocumentID: documentID,
		})),
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors of %s: %w", documentID, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func namespaceFilter(namespace string, filter map[string]string) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatchKeyword(payloadNamespace, namespace)}
	for key, value := range filter {
		must = append(must, qdrant.NewMatchKeyword(key, value))
	}
	return &qdrant.Filter{Must: must}
}

func recordPayload(namespace string, rec models.VectorRecord) map[string]any {
	payload := make(map[string]any, len(rec.Metadata)+2)
	for k, v := range rec.Metadata {
		payload[k] = v
	}
	payload[payloadNamespace] = namespace
	payload[payloadText] = rec.Text
	return payload
}

func splitPayload(payload map[string]*qdrant.Value) (string, map[string]any) {
	metadata := make(map[string]any, len(payload))
	var text string
	for k, v := range payload {
		switch k {
		case payloadText:
			text = v.GetStringValue()
		case payloadNamespace:
		default:
			metadata[k] = valueToAny(v)
		}
	}
	return text, metadata
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			out[i] = valueToAny(item)
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(kind.StructValue.GetFields()))
		for k, item := range kind.StructValue.GetFields() {
			out[k] = valueToAny(item)
		}
		return out
	}
	return nil
}
