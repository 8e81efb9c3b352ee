package ltm

import (
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps entries in process memory. It is the last-resort
// fallback and the store used by tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend creates an empty in-process store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (m *MemoryBackend) Name() string { return BackendMemory }

func (m *MemoryBackend) Get(key string, now time.Time) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || e.Expired(now) {
		return Entry{}, false, nil
	}
	return e.clone(), true, nil
}

func (m *MemoryBackend) Put(e Entry) error {
	m.mu.Lock()
	m.entries[e.Key] = e.clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) PrefixQuery(prefix string, now time.Time) ([]Entry, error) {
	m.mu.RLock()
	var out []Entry
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && !e.Expired(now) {
			out = append(out, e.clone())
		}
	}
	m.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Sweep(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Close() error { return nil }
