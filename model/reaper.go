package model

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// refresh (re)schedules eviction of e after ReapTime if it has no listeners
// and no pending submissions. Without a gateway documents are only evicted
// when ForceReaping is set.
func (m *Model) refresh(e *entry) {
	if m.db == nil && !m.cfg.ForceReaping {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted || e.listeners.Cardinality() > 0 || e.pending.Load() > 0 {
		return
	}
	e.cancelReap()
	gen := e.reapGen
	e.reapTimer = time.AfterFunc(m.cfg.ReapTime, func() {
		m.goBackground(func() { m.reap(e, gen) })
	})
}

// reap commits e and evicts it, provided nothing touched it in the meantime.
func (m *Model) reap(e *entry, gen uint64) {
	e.mu.Lock()
	stale := e.reapGen != gen
	e.mu.Unlock()
	if stale {
		return
	}

	// The op log is authoritative, so a failed write does not keep the
	// document resident; the next load replays from the last snapshot.
	if err := m.flushEntry(context.Background(), e); err != nil {
		e.mu.Lock()
		v, c := e.version, e.committed
		e.mu.Unlock()
		m.log.Error("evicting document without a current snapshot",
			zap.String("doc", e.name),
			zap.Int("version", v),
			zap.Int("committed", c),
			zap.Error(err))
	}

	m.mu.Lock()
	e.mu.Lock()
	ok := m.docs[e.name] == e &&
		e.reapGen == gen &&
		e.listeners.Cardinality() == 0 &&
		e.pending.Load() == 0
	version := e.version
	if ok {
		delete(m.docs, e.name)
		e.detach()
		m.stats.residentDelta(-1)
	}
	e.mu.Unlock()
	m.mu.Unlock()
	if !ok {
		return
	}

	e.shutdown(ErrNotFound)
	m.log.Debug("document reaped", zap.String("doc", e.name), zap.Int("version", version))
	m.emit(EventReap, e.name, version)
}
