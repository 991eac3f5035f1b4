package model

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/alimasry/go-collab-model/store"
)

// GetOps returns the ops with versions in [start, end). An end of
// store.Latest means through the current version; an end past the current
// version is clamped. Recent ops of a resident document come from memory.
func (m *Model) GetOps(ctx context.Context, name string, start, end int) ([]store.OpRecord, error) {
	if start < 0 {
		return nil, fmt.Errorf("%w: start %d", ErrInvalidRange, start)
	}
	if end != store.Latest && end < start {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	e := m.docs[name]
	m.mu.Unlock()

	if e == nil {
		if m.db == nil {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		m.stats.cacheMiss(siteGetOps)
		ops, err := m.readOps(ctx, name, start, end)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if err != nil {
			return nil, opsError(err)
		}
		return ops, nil
	}

	e.mu.Lock()
	if end == store.Latest || end > e.version {
		end = e.version
	}
	e.mu.Unlock()
	start = min(start, end)

	ops, err := m.getOps(ctx, e, start, end)
	if err != nil {
		return nil, opsError(err)
	}
	m.refresh(e)
	return ops, nil
}

// getOps returns ops [start, end) of a resident document, taking what it can
// from the entry's buffer and the rest from the gateway. Callers keep end at
// or below the entry's version.
func (m *Model) getOps(ctx context.Context, e *entry, start, end int) ([]store.OpRecord, error) {
	if start >= end {
		return nil, nil
	}

	e.mu.Lock()
	base := e.version - len(e.ops)
	if start >= base || m.db == nil {
		lo, hi := max(start, base), min(end, e.version)
		var ops []store.OpRecord
		if lo < hi {
			ops = slices.Clone(e.ops[lo-base : hi-base])
		}
		e.mu.Unlock()
		m.stats.cacheHit(siteGetOps)
		return ops, nil
	}
	var tail []store.OpRecord
	if end > base {
		tail = slices.Clone(e.ops[:min(end, e.version)-base])
		end = base
	}
	e.mu.Unlock()

	m.stats.cacheMiss(siteGetOps)
	ops, err := m.readOps(ctx, e.name, start, end)
	if err != nil {
		return nil, err
	}
	return append(ops, tail...), nil
}

// opsError classifies a failed op read. Ops the type cannot decode are
// corrupt history; anything else is a persistence failure.
func opsError(err error) error {
	if errors.Is(err, store.ErrCorruptRecord) {
		return fmt.Errorf("%w: %w", ErrCorruptHistory, err)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// readOps fetches ops from the gateway and stamps their versions by position.
func (m *Model) readOps(ctx context.Context, name string, start, end int) ([]store.OpRecord, error) {
	ops, err := m.db.GetOps(ctx, name, start, end)
	if err != nil {
		return nil, err
	}
	for i := range ops {
		ops[i].Version = start + i
	}
	return ops, nil
}
