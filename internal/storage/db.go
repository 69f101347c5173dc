package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fingerprint-shield/internal/schedule"
)

// DB is the MongoDB snapshot store. Expiry is enforced twice: a TTL index
// lets the server reap old documents, and reads ignore anything whose
// expires_at has passed, since the reaper runs only once a minute.
type DB struct {
	client   *mongo.Client
	database *mongo.Database

	snapshots *mongo.Collection

	ttl   time.Duration
	clock schedule.Clock
}

type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
	TTL        time.Duration
	Clock      schedule.Clock
}

func NewMongo(cfg *Config) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	// Set client options
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(20).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := verify(ctx, client); err != nil {
		return nil, err
	}

	database := client.Database(cfg.Database)
	collection := cfg.Collection
	if collection == "" {
		collection = "snapshots"
	}

	clock := cfg.Clock
	if clock == nil {
		clock = schedule.Real()
	}

	db := &DB{
		client:    client,
		database:  database,
		snapshots: database.Collection(collection),
		ttl:       cfg.TTL,
		clock:     clock,
	}

	if err := db.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return db, nil
}

// verify pings the deployment and releases the client's pool when it is
// unreachable.
func verify(ctx context.Context, client *mongo.Client) error {
	if err := client.Ping(ctx, nil); err != nil {
		if derr := client.Disconnect(context.Background()); derr != nil {
			return fmt.Errorf("failed to ping MongoDB: %w (disconnect: %v)", err, derr)
		}
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return nil
}

func (db *DB) createIndexes(ctx context.Context) error {
	snapshotIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// documents are removed as soon as expires_at passes
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := db.snapshots.Indexes().CreateMany(ctx, snapshotIndexes)
	if err != nil {
		return fmt.Errorf("failed to create snapshot indexes: %w", err)
	}

	return nil
}

func (db *DB) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.client.Disconnect(ctx)
}

func (db *DB) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.client.Ping(ctx, nil)
}
