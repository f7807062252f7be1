// Package dedup remembers which reminder occurrences were already handled so a
// per-minute trigger dispatches each occurrence once.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache of last dispatch attempts keyed by occurrence
type Cache interface {
	// Get the time the key was last marked
	Get(ctx context.Context, key string) (at time.Time, ok bool, err error)
	// Set marks the key at the given time
	Set(ctx context.Context, key string, at time.Time) error
	// EvictOlderThan removes entries marked before cutoff
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// Clear removes every entry
	Clear(ctx context.Context) error
	// Len is the number of entries
	Len(ctx context.Context) (int, error)
}

// Key for the occurrence of a reminder on the calendar day of day
func Key(reminderID uuid.UUID, day time.Time) string {
	return reminderID.String() + "-" + day.Format("2006-01-02")
}

// Memory is a process local Cache
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemory creates an empty in-memory cache
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time)}
}

// Get the time the key was last marked
func (m *Memory) Get(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.entries[key]

	return at, ok, nil
}

// Set marks the key
func (m *Memory) Set(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = at

	return nil
}

// EvictOlderThan removes entries marked before cutoff
func (m *Memory) EvictOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, at := range m.entries {
		if at.Before(cutoff) {
			delete(m.entries, key)
			evicted++
		}
	}

	return evicted, nil
}

// Clear removes every entry
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]time.Time)

	return nil
}

// Len is the number of entries
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries), nil
}
