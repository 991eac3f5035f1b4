package model

import (
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/store"
)

// entry is a resident document. Content, version and the op buffer are only
// written by the entry's queue goroutine; everything else may be touched by
// callers holding mu.
type entry struct {
	name string
	typ  ot.Type

	mu        sync.Mutex
	content   any
	version   int
	meta      map[string]any
	ops       []store.OpRecord // ops[i].Version == version-len(ops)+i
	committed int              // newest version known durable as a snapshot
	handle    store.Handle
	writing   chan struct{} // non-nil while a snapshot write is in flight
	listeners mapset.Set[*Subscription]
	reapTimer *time.Timer
	reapGen   uint64
	evicted   bool

	pending  atomic.Int32 // submissions enqueued or about to be
	queue    chan *request
	stop     chan struct{}
	stopErr  error
	stopOnce sync.Once
	done     chan struct{}
}

func newEntry(name string, typ ot.Type, snap store.SnapshotRecord, h store.Handle) *entry {
	meta := snap.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	return &entry{
		name:      name,
		typ:       typ,
		content:   snap.Content,
		version:   snap.Version,
		meta:      meta,
		committed: snap.Version,
		handle:    h,
		listeners: mapset.NewSet[*Subscription](),
		queue:     make(chan *request, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// cancelReap invalidates any scheduled eviction. Caller holds e.mu.
func (e *entry) cancelReap() {
	e.reapGen++
	if e.reapTimer != nil {
		e.reapTimer.Stop()
		e.reapTimer = nil
	}
}

// shutdown stops the queue goroutine; queued submissions fail with err.
func (e *entry) shutdown(err error) {
	e.stopOnce.Do(func() {
		e.stopErr = err
		close(e.stop)
	})
}

// detach marks the entry gone and drops its listeners. Caller holds e.mu.
func (e *entry) detach() {
	e.evicted = true
	e.cancelReap()
	for _, sub := range e.listeners.ToSlice() {
		sub.active.Store(false)
	}
	e.listeners.Clear()
}
