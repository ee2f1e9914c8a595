package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps history in process for local use.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	// max bounds entries kept per session; 0 keeps everything.
	max int
}

func NewInMemoryStore(max int) *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry), max: max}
}

func (s *InMemoryStore) Save(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	arr := append(s.entries[entry.SessionID], entry)
	if s.max > 0 && len(arr) > s.max {
		arr = append([]Entry(nil), arr[len(arr)-s.max:]...)
	}
	s.entries[entry.SessionID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Entry, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
