package storage

import (
	"context"
	"sync"
	"time"

	"fingerprint-shield/internal/schedule"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Memory keeps snapshots in process. Entries are dropped lazily on read
// and by Sweep.
type Memory struct {
	ttl   time.Duration
	clock schedule.Clock

	mu      sync.Mutex
	entries map[string]entry
}

func NewMemory(ttl time.Duration, clock schedule.Clock) *Memory {
	if clock == nil {
		clock = schedule.Real()
	}
	return &Memory{ttl: ttl, clock: clock, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string, dst any) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return decode(e.data, dst)
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = entry{data: data, expires: m.clock.Now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

// Sweep removes expired entries and returns how many it dropped.
func (m *Memory) Sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
