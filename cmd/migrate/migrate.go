package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"ai-tutor-platform/internal/config"
	"ai-tutor-platform/internal/database"
	"ai-tutor-platform/internal/vectorstore"
	"ai-tutor-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  indexes            - Create status store indexes")
		fmt.Println("  vector-collection  - Create the vector collection and payload indexes")
		fmt.Println("  expire-stale       - Fail documents whose ingestion lease expired")
		fmt.Println("  verify             - Print document counts per processing state")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch command {
	case "indexes":
		db := connect(cfg)
		defer db.Client().Disconnect(context.Background())
		if err := config.CreateIndexes(ctx, db, cfg.SourceCollection); err != nil {
			log.Fatalf("Index creation failed: %v", err)
		}
		fmt.Println("Indexes created successfully!")

	case "vector-collection":
		if err := ensureVectorCollection(ctx, cfg); err != nil {
			log.Fatalf("Vector collection setup failed: %v", err)
		}
		fmt.Printf("Collection %q is ready\n", cfg.VectorIndexName)

	case "expire-stale":
		db := connect(cfg)
		defer db.Client().Disconnect(context.Background())
		store := database.NewMongoStatusStore(db, cfg.SourceCollection)
		n, err := store.ExpireStale(ctx, time.Now().UTC())
		if err != nil {
			log.Fatalf("Expiring stale leases failed: %v", err)
		}
		fmt.Printf("Released %d documents\n", n)

	case "verify":
		db := connect(cfg)
		defer db.Client().Disconnect(context.Background())
		if err := verify(ctx, db.Collection(cfg.SourceCollection)); err != nil {
			log.Fatalf("Verification failed: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func connect(cfg *config.Config) *mongo.Database {
	if cfg.MongoURI == "" {
		log.Fatal("MONGO_URI is required for this command")
	}
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	return client.Database(cfg.DBName)
}

func ensureVectorCollection(ctx context.Context, cfg *config.Config) error {
	if cfg.VectorStoreProvider != config.VectorStoreQdrant {
		return fmt.Errorf("VECTOR_STORE_PROVIDER is %q, nothing to create", cfg.VectorStoreProvider)
	}
	if cfg.QdrantHost == "" || cfg.VectorIndexName == "" {
		return fmt.Errorf("QDRANT_HOST and VECTOR_INDEX_NAME are required")
	}
	// NewQdrantStore creates the collection and its payload indexes.
	store, err := vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     cfg.QdrantUseTLS,
		Collection: cfg.VectorIndexName,
		Dimension:  cfg.VectorDimensions,
	})
	if err != nil {
		return err
	}
	return store.Close()
}

func verify(ctx context.Context, coll *mongo.Collection) error {
	total, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return err
	}
	fmt.Printf("%d source documents\n", total)

	for _, state := range []models.ProcessingState{models.StatePending, models.StateProcessing, models.StateSucceeded, models.StateFailed} {
		n, err := coll.CountDocuments(ctx, bson.M{"processingState": state})
		if err != nil {
			return fmt.Errorf("failed to count %s documents: %v", state, err)
		}
		fmt.Printf("  %-10s %d\n", state, n)
	}

	processed, err := coll.CountDocuments(ctx, bson.M{"contentProcessed": true})
	if err != nil {
		return err
	}
	fmt.Printf("  processed  %d\n", processed)
	return nil
}
