package state

import (
	"context"
	"fmt"
	"sync"

	"shelfcheck/pkg/platform/sentinel"
)

// InMemoryStore keeps documents in process. Suitable for tests and single-node runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]document
}

type document struct {
	data    []byte
	version int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string]document)}
}

func (s *InMemoryStore) Read(_ context.Context, kind, key string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[documentKey(kind, key)]
	if !ok {
		return nil, 0, sentinel.ErrNotFound
	}
	return append([]byte(nil), doc.data...), doc.version, nil
}

func (s *InMemoryStore) Write(_ context.Context, kind, key string, data []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := documentKey(kind, key)
	current := s.docs[k].version
	if current != expected {
		return 0, fmt.Errorf("expected version %d, found %d: %w", expected, current, sentinel.ErrConflict)
	}
	next := current + 1
	s.docs[k] = document{data: append([]byte(nil), data...), version: next}
	return next, nil
}

// Len returns the number of stored documents.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func documentKey(kind, key string) string {
	return kind + "|" + key
}
