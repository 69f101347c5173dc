// Package storage is the optional TTL-bounded key-value store consumers use
// to keep a generated snapshot stable across reloads within one window.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/metrics"
	"fingerprint-shield/internal/schedule"
)

// ErrNotFound covers both missing and expired entries.
var ErrNotFound = errors.New("storage: not found")

// Store holds JSON-serializable values for a fixed TTL.
type Store interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*DB)(nil)
)

func encode(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := sonic.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return nil
}

// Open builds the configured backend.
func Open(cfg config.StorageConfig, clock schedule.Clock) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL, clock), nil
	case "mongodb":
		return NewMongo(&Config{
			URI:        cfg.MongoDB.URI,
			Database:   cfg.MongoDB.Database,
			Collection: cfg.MongoDB.Collection,
			Timeout:    time.Duration(cfg.MongoDB.TimeoutSeconds) * time.Second,
			TTL:        cfg.TTL,
			Clock:      clock,
		})
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

type instrumented struct {
	Store
	metrics *metrics.Metrics
}

// Instrument counts hits and misses on reads.
func Instrument(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{Store: s, metrics: m}
}

func (s *instrumented) Get(ctx context.Context, key string, dst any) error {
	err := s.Store.Get(ctx, key, dst)
	switch {
	case err == nil:
		s.metrics.SnapshotHits.Inc()
	case errors.Is(err, ErrNotFound):
		s.metrics.SnapshotMisses.Inc()
	}
	return err
}
