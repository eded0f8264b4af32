package docstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store and feed source used by tests and local runs.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Snapshot
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]Snapshot)}
}

// PutProfile stores or replaces the profile document for a caller.
func (m *Memory) PutProfile(callerID string, doc Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[callerID] = doc
}

// Profile implements Store.
func (m *Memory) Profile(_ context.Context, callerID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.profiles[callerID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// MemoryFeed is a hand-driven Feed for tests and for replaying events.
type MemoryFeed struct {
	ch        chan Event
	closeOnce sync.Once
}

var _ Feed = (*MemoryFeed)(nil)

// NewMemoryFeed returns a feed with the given buffer size.
func NewMemoryFeed(buffer int) *MemoryFeed {
	if buffer <= 0 {
		buffer = 16
	}
	return &MemoryFeed{ch: make(chan Event, buffer)}
}

// Emit delivers one event to the consumer.
func (f *MemoryFeed) Emit(ev Event) { f.ch <- ev }

// Events implements Feed.
func (f *MemoryFeed) Events() <-chan Event { return f.ch }

// Close implements Feed.
func (f *MemoryFeed) Close() error {
	f.closeOnce.Do(func() { close(f.ch) })
	return nil
}
