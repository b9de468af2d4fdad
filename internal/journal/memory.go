package journal

import (
	"context"
	"fmt"
	"sync"

	"signalmesh/internal/domain"
)

// MemoryStore is an in-memory domain.Bus with the same expected-version
// semantics as the SQLite store. Used for tests and ephemeral buses.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string][]domain.Signal
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]domain.Signal)}
}

// Append implements domain.Bus.
func (m *MemoryStore) Append(_ context.Context, stream string, expected domain.ExpectedVersion, sig domain.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := int64(len(m.streams[stream]))
	if !expected.Any && expected.Exact != current {
		return domain.NewDomainError("journal.Append", domain.ErrBusVersionConflict,
			fmt.Sprintf("stream %q at %d, expected %d", stream, current, expected.Exact))
	}
	m.streams[stream] = append(m.streams[stream], sig)
	return nil
}

// Read returns the signals of stream after version from, oldest first.
func (m *MemoryStore) Read(stream string, from int64) []domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.streams[stream]
	if from >= int64(len(entries)) {
		return nil
	}
	out := make([]domain.Signal, len(entries[from:]))
	copy(out, entries[from:])
	return out
}

// Version returns the current version of stream.
func (m *MemoryStore) Version(stream string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[stream]))
}
