package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meigma/codondb/store"
)

// MockStore implements store.Store in memory, with optional failures.
type MockStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	OpenErr error
	GetErr  error
	PutErr  error

	Gets atomic.Int64
	Puts atomic.Int64
}

var _ store.Store = (*MockStore)(nil)

// NewMockStore constructs an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]byte)}
}

// Open implements store.Store.
func (s *MockStore) Open(context.Context) error {
	return store.Wrap("open", "", s.OpenErr)
}

// Get implements store.Store.
func (s *MockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.Gets.Add(1)
	if err := s.Open(ctx); err != nil {
		return nil, false, err
	}
	if s.GetErr != nil {
		return nil, false, store.Wrap("get", key, s.GetErr)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Put implements store.Store.
func (s *MockStore) Put(ctx context.Context, key string, data []byte) error {
	s.Puts.Add(1)
	if err := s.Open(ctx); err != nil {
		return err
	}
	if s.PutErr != nil {
		return store.Wrap("put", key, s.PutErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

// Seed stores data under key without counting it as a Put.
func (s *MockStore) Seed(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
}

// Raw returns the stored bytes for key.
func (s *MockStore) Raw(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	return data, ok
}
