package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) Set(ctx context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	now := db.clock.Now()
	filter := bson.M{"key": key}
	update := bson.M{
		"$set": bson.M{
			"value":      string(data),
			"updated_at": now,
			"expires_at": now.Add(db.ttl),
		},
	}
	opts := options.Update().SetUpsert(true)

	_, err = db.snapshots.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (db *DB) Get(ctx context.Context, key string, dst any) error {
	var snap Snapshot
	err := db.snapshots.FindOne(ctx, bson.M{"key": key}).Decode(&snap)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get snapshot: %w", err)
	}

	if !snap.Live(db.clock.Now()) {
		return ErrNotFound
	}
	return decode([]byte(snap.Value), dst)
}

func (db *DB) Delete(ctx context.Context, key string) error {
	if _, err := db.snapshots.DeleteOne(ctx, bson.M{"key": key}); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
