package store

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

type docRecord struct {
	snapshot SnapshotRecord
	history  []OpRecord
	// gen counts snapshot writes and doubles as the handle.
	gen int
}

// MemoryStore is an in-process Gateway. Values are kept as-is, so it works
// with any document type without a codec.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*docRecord
}

var _ Gateway = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*docRecord)}
}

func (s *MemoryStore) Create(_ context.Context, name string, snap SnapshotRecord) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[name]; exists {
		return nil, fmt.Errorf("create %q: %w", name, ErrAlreadyExists)
	}
	snap.Meta = maps.Clone(snap.Meta)
	s.docs[name] = &docRecord{snapshot: snap, gen: 1}
	return 1, nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, name string) (SnapshotRecord, Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[name]
	if !ok {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: %w", name, ErrNotFound)
	}
	snap := rec.snapshot
	snap.Meta = maps.Clone(snap.Meta)
	return snap, rec.gen, nil
}

func (s *MemoryStore) WriteSnapshot(_ context.Context, name string, snap SnapshotRecord, h Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.docs[name]
	if !ok {
		return nil, fmt.Errorf("write snapshot %q: %w", name, ErrNotFound)
	}
	if gen, ok := h.(int); ok && gen != rec.gen {
		return nil, fmt.Errorf("write snapshot %q: handle %d, store at %d: %w", name, gen, rec.gen, ErrConflict)
	}
	if snap.Version > len(rec.history) {
		return nil, fmt.Errorf("write snapshot %q: version %d ahead of op log (%d ops): %w",
			name, snap.Version, len(rec.history), ErrConflict)
	}
	snap.Meta = maps.Clone(snap.Meta)
	rec.snapshot = snap
	rec.gen++
	return rec.gen, nil
}

func (s *MemoryStore) WriteOp(_ context.Context, name string, op OpRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.docs[name]
	if !ok {
		return fmt.Errorf("write op %q: %w", name, ErrNotFound)
	}
	if op.Version != len(rec.history) {
		return fmt.Errorf("write op %q: version %d, log has %d ops: %w", name, op.Version, len(rec.history), ErrConflict)
	}
	rec.history = append(rec.history, op)
	return nil
}

func (s *MemoryStore) GetOps(_ context.Context, name string, start, end int) ([]OpRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[name]
	if !ok {
		return nil, fmt.Errorf("get ops %q: %w", name, ErrNotFound)
	}
	if end == Latest || end > len(rec.history) {
		end = len(rec.history)
	}
	if start < 0 || start > end {
		return nil, fmt.Errorf("get ops %q: invalid range [%d, %d)", name, start, end)
	}
	ops := make([]OpRecord, end-start)
	copy(ops, rec.history[start:end])
	return ops, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string, _ Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[name]; !ok {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	delete(s.docs, name)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
