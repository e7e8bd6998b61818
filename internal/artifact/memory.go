package artifact

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"flightdeck/internal/deck"
)

// MemorySink keeps artifacts in memory. Safe for concurrent use.
type MemorySink struct {
	mu    sync.RWMutex
	items map[string][]byte
}

var _ deck.ArtifactSink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{items: make(map[string][]byte)}
}

func (m *MemorySink) Put(_ context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}

// Bytes returns a copy of the artifact stored under key.
func (m *MemorySink) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys lists stored keys in sorted order.
func (m *MemorySink) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateSetup always succeeds for the in-memory sink.
func (m *MemorySink) ValidateSetup() error {
	return nil
}
