package shield

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	expires time.Time
}

// MemoryStore is a Store for a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]window
	blocks  map[string]time.Time
	NowFunc func() time.Time // mockable
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]window),
		blocks:  make(map[string]time.Time),
		NowFunc: time.Now,
	}
}

func (m *MemoryStore) Hit(_ context.Context, client string, d time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.NowFunc()
	w, ok := m.windows[client]
	if !ok || !now.Before(w.expires) {
		w = window{expires: now.Add(d)}
	}
	w.count++
	m.windows[client] = w
	return w.count, nil
}

func (m *MemoryStore) Block(_ context.Context, client string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[client] = m.NowFunc().Add(d)
	delete(m.windows, client)
	return nil
}

func (m *MemoryStore) BlockedFor(_ context.Context, client string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.blocks[client]
	if !ok {
		return 0, nil
	}
	left := until.Sub(m.NowFunc())
	if left <= 0 {
		delete(m.blocks, client)
		return 0, nil
	}
	return left, nil
}
