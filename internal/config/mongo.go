package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson" // Use bson for index keys
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	err = CreateIndexes(ctx, client.Database(cfg.DBName), cfg.SourceCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

// CreateIndexes prepares the source document collection for the stale-lease
// sweep and status dashboards.
func CreateIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	sourceIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "processingState", Value: 1}, {Key: "leaseExpiresAt", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "contentProcessed", Value: 1}},
		},
	}
	_, err := db.Collection(collection).Indexes().CreateMany(ctx, sourceIndexes)
	return err
}
