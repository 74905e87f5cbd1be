package lease

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

var errStoreClosed = errors.New("store closed")

// MemoryStore is an in-process Store with linearizable compare-and-swap.
// It backs local development and tests that run several electors against one record.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Lease
	seq     int64
	closed  bool
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Lease)}
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, unavailable("get", errStoreClosed)
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// CreateOrUpdate implements Store.CreateOrUpdate.
func (s *MemoryStore) CreateOrUpdate(ctx context.Context, key Key, observed *Lease, next Lease) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("write", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, unavailable("write", errStoreClosed)
	}

	current, exists := s.records[key]
	switch {
	case observed == nil && exists:
		return nil, ErrConflict
	case observed != nil && !exists:
		return nil, ErrNotFound
	case observed != nil && current.Version != observed.Version:
		return nil, ErrConflict
	}

	s.seq++
	next.Version = strconv.FormatInt(s.seq, 10)
	s.records[key] = next

	stored := next
	return &stored, nil
}

// Delete removes a record, simulating an external deletion.
func (s *MemoryStore) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Close marks the store closed; later calls fail with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

