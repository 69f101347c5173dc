package storage

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Snapshot is one persisted value. Value holds the JSON encoding so any
// plain data a consumer stores round-trips without BSON mapping.
type Snapshot struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Key       string             `bson:"key" json:"key"`
	Value     string             `bson:"value" json:"value"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
	ExpiresAt time.Time          `bson:"expires_at" json:"expires_at"`
}

// Live reports whether the snapshot is still inside its TTL at now.
func (s *Snapshot) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
