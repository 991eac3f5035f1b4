package model

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alimasry/go-collab-model/store"
)

// TryWriteSnapshot persists the current state of a resident document if it
// has ops past its committed version. It returns ErrWriteInProgress if a
// write for the document is already running, and does nothing for
// documents that are not resident.
func (m *Model) TryWriteSnapshot(ctx context.Context, name string) error {
	e := m.resident(name)
	if e == nil {
		return nil
	}
	return m.writeSnapshot(ctx, e)
}

func (m *Model) writeSnapshot(ctx context.Context, e *entry) error {
	if m.db == nil || m.resident(e.name) != e {
		return nil
	}

	e.mu.Lock()
	if e.committed >= e.version {
		e.mu.Unlock()
		return nil
	}
	if e.writing != nil {
		e.mu.Unlock()
		return ErrWriteInProgress
	}
	done := make(chan struct{})
	e.writing = done
	snap := store.SnapshotRecord{
		Content: e.content,
		Version: e.version,
		Type:    e.typ.Name(),
		Meta:    maps.Clone(e.meta),
	}
	h := e.handle
	e.mu.Unlock()

	m.stats.writeSnapshot()
	next, err := m.db.WriteSnapshot(ctx, e.name, snap, h)

	e.mu.Lock()
	e.writing = nil
	close(done)
	if err == nil {
		e.committed = max(e.committed, snap.Version)
		e.handle = next
	}
	e.mu.Unlock()

	if err != nil {
		m.stats.snapshotFailed()
		return fmt.Errorf("%w: write snapshot %q v%d: %w", ErrPersistence, e.name, snap.Version, err)
	}
	m.log.Debug("snapshot written", zap.String("doc", e.name), zap.Int("version", snap.Version))
	return nil
}

// Flush writes a snapshot of every resident document whose version is ahead
// of its committed version, waiting out writes already in flight.
func (m *Model) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	entries := make([]*entry, 0, len(m.docs))
	for _, e := range m.docs {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	return m.flushAll(ctx, entries)
}

func (m *Model) flushAll(ctx context.Context, entries []*entry) error {
	if m.db == nil {
		return nil
	}
	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error { return m.flushEntry(ctx, e) })
	}
	return g.Wait()
}

// flushEntry returns once the version e had on entry is committed.
func (m *Model) flushEntry(ctx context.Context, e *entry) error {
	if m.db == nil {
		return nil
	}
	e.mu.Lock()
	target := e.version
	e.mu.Unlock()

	for {
		e.mu.Lock()
		committed, writing := e.committed, e.writing
		e.mu.Unlock()
		if committed >= target || m.resident(e.name) != e {
			return nil
		}
		if writing != nil {
			select {
			case <-writing:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := m.writeSnapshot(ctx, e)
		if errors.Is(err, ErrWriteInProgress) {
			continue
		}
		if err != nil {
			return err
		}
	}
}
