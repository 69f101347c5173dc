package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/metrics"
	"fingerprint-shield/internal/schedule"
)

type deviceList struct {
	Origin  string   `json:"origin"`
	Devices []string `json:"devices"`
}

func TestMemoryRoundTrip(t *testing.T) {
	clock := schedule.NewVirtual(time.Unix(1_700_000_000, 0))
	store := NewMemory(time.Minute, clock)
	ctx := context.Background()

	in := deviceList{Origin: "https://example.com", Devices: []string{"audioinput", "videoinput"}}
	require.NoError(t, store.Set(ctx, "devices::https://example.com", in))

	var out deviceList
	require.NoError(t, store.Get(ctx, "devices::https://example.com", &out))
	assert.Equal(t, in, out)
}

func TestMemoryExpiry(t *testing.T) {
	clock := schedule.NewVirtual(time.Unix(1_700_000_000, 0))
	store := NewMemory(time.Minute, clock)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", 42))
	clock.Advance(59 * time.Second)

	var v int
	require.NoError(t, store.Get(ctx, "k", &v))
	assert.Equal(t, 42, v)

	clock.Advance(time.Second)
	assert.ErrorIs(t, store.Get(ctx, "k", &v), ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemorySetRefreshesTTL(t *testing.T) {
	clock := schedule.NewVirtual(time.Unix(0, 0))
	store := NewMemory(time.Minute, clock)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "a"))
	clock.Advance(40 * time.Second)
	require.NoError(t, store.Set(ctx, "k", "b"))
	clock.Advance(40 * time.Second)

	var v string
	require.NoError(t, store.Get(ctx, "k", &v))
	assert.Equal(t, "b", v)
}

func TestMemorySweepAndDelete(t *testing.T) {
	clock := schedule.NewVirtual(time.Unix(0, 0))
	store := NewMemory(time.Minute, clock)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", 1))
	clock.Advance(30 * time.Second)
	require.NoError(t, store.Set(ctx, "new", 2))
	require.NoError(t, store.Set(ctx, "gone", 3))
	require.NoError(t, store.Delete(ctx, "gone"))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	var v int
	assert.ErrorIs(t, store.Get(ctx, "gone", &v), ErrNotFound)
	require.NoError(t, store.Get(ctx, "new", &v))
	assert.Equal(t, 2, v)
}

func TestMemoryRejectsUnencodable(t *testing.T) {
	store := NewMemory(time.Minute, nil)
	err := store.Set(context.Background(), "ch", make(chan int))
	assert.Error(t, err)
}

func TestInstrumentCountsHitsAndMisses(t *testing.T) {
	m := metrics.New()
	store := Instrument(NewMemory(time.Minute, nil), m)
	ctx := context.Background()

	var v int
	assert.ErrorIs(t, store.Get(ctx, "k", &v), ErrNotFound)
	require.NoError(t, store.Set(ctx, "k", 7))
	require.NoError(t, store.Get(ctx, "k", &v))
	require.NoError(t, store.Get(ctx, "k", &v))

	hits, err := m.Total("shield_snapshot_hits_total")
	require.NoError(t, err)
	misses, err := m.Total("shield_snapshot_misses_total")
	require.NoError(t, err)
	assert.Equal(t, 2.0, hits)
	assert.Equal(t, 1.0, misses)
}

func TestInstrumentNilMetrics(t *testing.T) {
	mem := NewMemory(time.Minute, nil)
	assert.Same(t, Store(mem), Instrument(mem, nil))
}

func TestOpenMemoryDefault(t *testing.T) {
	cfg := config.Default().Storage
	store, err := Open(cfg, nil)
	require.NoError(t, err)
	_, ok := store.(*Memory)
	assert.True(t, ok)
	assert.NoError(t, store.Close(context.Background()))
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := config.Default().Storage
	cfg.Backend = "redis"
	_, err := Open(cfg, nil)
	assert.Error(t, err)
}

func TestSnapshotLive(t *testing.T) {
	now := time.Unix(1000, 0)
	s := &Snapshot{ExpiresAt: now.Add(time.Second)}
	assert.True(t, s.Live(now))
	assert.False(t, s.Live(now.Add(time.Second)))
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}

	clock := schedule.NewVirtual(time.Now())
	db, err := NewMongo(&Config{
		URI:        uri,
		Database:   "shield_test",
		Collection: "snapshots_" + time.Now().Format("150405"),
		Timeout:    10 * time.Second,
		TTL:        time.Minute,
		Clock:      clock,
	})
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() {
		_ = db.snapshots.Drop(ctx)
		_ = db.Close(ctx)
	})
	require.NoError(t, db.Ping())

	in := deviceList{Origin: "https://example.com", Devices: []string{"audiooutput"}}
	require.NoError(t, db.Set(ctx, "devices", in))
	require.NoError(t, db.Set(ctx, "devices", in))

	var out deviceList
	require.NoError(t, db.Get(ctx, "devices", &out))
	assert.Equal(t, in, out)

	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, db.Get(ctx, "devices", &out), ErrNotFound)

	require.NoError(t, db.Delete(ctx, "devices"))
	assert.ErrorIs(t, db.Get(ctx, "missing", &out), ErrNotFound)
}

func TestVerifyDisconnectsUnreachableClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI("mongodb://127.0.0.1:1/?directConnection=true").
		SetServerSelectionTimeout(100*time.Millisecond))
	require.NoError(t, err)

	err = verify(ctx, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping MongoDB")
	assert.ErrorIs(t, client.Ping(ctx, nil), mongo.ErrClientDisconnected)
}
