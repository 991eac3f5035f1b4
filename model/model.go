// Package model keeps live documents in memory, serializes the operations
// submitted against each of them, and persists them through a store.Gateway.
package model

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/store"
)

// Model is the live document cache. Create one with NewModel and release it
// with Close.
type Model struct {
	db      store.Gateway
	types   *ot.Registry
	cfg     Config
	log     *zap.Logger
	stats   *Stats
	onEvent func(Event)
	now     func() time.Time

	mu     sync.Mutex
	docs   map[string]*entry
	closed bool
	loads  singleflight.Group

	// Deletes racing a fetch of the same name. deleting counts deletes in
	// progress; deletedAt records the deleteGen at which a name was last
	// deleted and is cleared once no fetch is running.
	deleting  map[string]int
	deletedAt map[string]uint64
	deleteGen uint64
	fetching  int

	bg        sync.WaitGroup
	flushStop chan struct{}
	flushDone chan struct{}
}

type Option func(*Model)

func WithLogger(log *zap.Logger) Option {
	return func(m *Model) { m.log = log }
}

// WithStats records cache and persistence counters.
func WithStats(s *Stats) Option {
	return func(m *Model) { m.stats = s }
}

// WithEventHook installs fn to observe document lifecycle events. fn runs
// synchronously and must not call back into the Model for the same document.
func WithEventHook(fn func(Event)) Option {
	return func(m *Model) { m.onEvent = fn }
}

// WithClock overrides the source of op timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// NewModel creates a Model. db may be nil, in which case documents live only
// in memory and keep their whole history.
func NewModel(db store.Gateway, types *ot.Registry, cfg Config, opts ...Option) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}
	if types == nil {
		return nil, errors.New("model: nil type registry")
	}
	m := &Model{
		db:    db,
		types: types,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   time.Now,
		docs:  make(map[string]*entry),

		deleting:  make(map[string]int),
		deletedAt: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("model")

	if db != nil && cfg.FlushInterval > 0 {
		m.flushStop = make(chan struct{})
		m.flushDone = make(chan struct{})
		go m.flushLoop(cfg.FlushInterval)
	}
	return m, nil
}

// Create makes a new, empty document of the named type at version 0.
func (m *Model) Create(ctx context.Context, name, typeName string, meta map[string]any) error {
	if strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidName, name)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, resident := m.docs[name]
	m.mu.Unlock()
	if resident {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}

	typ, ok := m.types.Lookup(typeName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrTypeUnknown, typeName)
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	snap := store.SnapshotRecord{Content: typ.Create(), Version: 0, Type: typ.Name(), Meta: meta}

	var h store.Handle
	if m.db != nil {
		var err error
		h, err = m.db.Create(ctx, name, snap)
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
		}
		if err != nil {
			return fmt.Errorf("%w: create %q: %w", ErrPersistence, name, err)
		}
	}

	e := newEntry(name, typ, snap, h)
	cur, err := m.insert(e)
	if err != nil {
		return err
	}
	if cur != e {
		if m.db != nil {
			// Someone loaded the record we just created.
			return nil
		}
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	m.log.Debug("document created", zap.String("doc", name), zap.String("type", typ.Name()))
	m.emit(EventCreate, name, 0)
	m.emit(EventAdd, name, 0)
	m.refresh(e)
	return nil
}

// GetSnapshot returns the current content, version, type and metadata of a
// document, loading it if needed.
func (m *Model) GetSnapshot(ctx context.Context, name string) (store.SnapshotRecord, error) {
	e, err := m.load(ctx, name, siteGetSnapshot)
	if err != nil {
		return store.SnapshotRecord{}, err
	}
	e.mu.Lock()
	snap := store.SnapshotRecord{
		Content: e.content,
		Version: e.version,
		Type:    e.typ.Name(),
		Meta:    maps.Clone(e.meta),
	}
	e.mu.Unlock()
	m.refresh(e)
	return snap, nil
}

func (m *Model) GetVersion(ctx context.Context, name string) (int, error) {
	snap, err := m.GetSnapshot(ctx, name)
	if err != nil {
		return 0, err
	}
	return snap.Version, nil
}

// Delete removes a document from memory and from the gateway. Listeners
// are dropped without notice.
func (m *Model) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	e := m.docs[name]
	if e != nil {
		delete(m.docs, name)
	}
	m.deleting[name]++
	m.mu.Unlock()
	defer m.deleted(name)

	var h store.Handle
	version := 0
	if e != nil {
		e.mu.Lock()
		e.detach()
		h, version = e.handle, e.version
		e.mu.Unlock()
		e.shutdown(fmt.Errorf("%w: %q was deleted", ErrNotFound, name))
		m.stats.residentDelta(-1)
	}

	if m.db != nil {
		err := m.db.Delete(ctx, name, h)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if e == nil {
				return fmt.Errorf("%w: %q", ErrNotFound, name)
			}
		case err != nil:
			return fmt.Errorf("%w: delete %q: %w", ErrPersistence, name, err)
		}
	} else if e == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	m.log.Debug("document deleted", zap.String("doc", name))
	m.emit(EventDelete, name, version)
	return nil
}

// deleted ends a Delete of name, so fetches that began before it refuse to
// make their copy resident.
func (m *Model) deleted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteGen++
	if m.fetching > 0 {
		m.deletedAt[name] = m.deleteGen
	}
	if m.deleting[name]--; m.deleting[name] == 0 {
		delete(m.deleting, name)
	}
}

// Close flushes dirty snapshots, stops every document and closes the gateway.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.docs))
	for _, e := range m.docs {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	if m.flushStop != nil {
		close(m.flushStop)
		<-m.flushDone
	}

	for _, e := range entries {
		e.shutdown(ErrClosed)
		<-e.done
	}
	err := m.flushAll(context.Background(), entries)

	m.mu.Lock()
	for _, e := range entries {
		e.mu.Lock()
		e.detach()
		e.mu.Unlock()
	}
	m.stats.residentDelta(-float64(len(m.docs)))
	m.docs = make(map[string]*entry)
	m.mu.Unlock()

	m.bg.Wait()
	if m.db != nil {
		err = errors.Join(err, m.db.Close())
	}
	return err
}

// load returns the resident entry for name, fetching it from the gateway if
// needed. Concurrent loads of the same name share one fetch.
func (m *Model) load(ctx context.Context, name, site string) (*entry, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := m.docs[name]
	m.mu.Unlock()
	if ok {
		m.stats.cacheHit(site)
		return e, nil
	}
	if m.db == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	// The fetch outlives a cancelled caller so other waiters still get it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := m.loads.DoChan(name, func() (any, error) {
		return m.fetch(fetchCtx, name, site)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Model) fetch(ctx context.Context, name, site string) (*entry, error) {
	m.mu.Lock()
	e := m.docs[name]
	gen := m.deleteGen
	if e == nil {
		m.fetching++
	}
	m.mu.Unlock()
	if e != nil {
		return e, nil
	}
	defer m.fetchDone()
	m.stats.cacheMiss(site)

	snap, h, err := m.db.GetSnapshot(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	case errors.Is(err, store.ErrUnknownType):
		return nil, fmt.Errorf("%w: %q: %w", ErrTypeUnknown, name, err)
	case err != nil:
		return nil, fmt.Errorf("%w: load %q: %w", ErrPersistence, name, err)
	}
	typ, ok := m.types.Lookup(snap.Type)
	if !ok {
		m.log.Warn("document has unknown type", zap.String("doc", name), zap.String("type", snap.Type))
		return nil, fmt.Errorf("%w: %q", ErrTypeUnknown, snap.Type)
	}

	ops, err := m.readOps(ctx, name, snap.Version, store.Latest)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, opsError(fmt.Errorf("load %q ops: %w", name, err))
	}
	if len(ops) > 0 {
		m.log.Info("catching up document",
			zap.String("doc", name),
			zap.Int("from", snap.Version),
			zap.Int("to", snap.Version+len(ops)))
	}
	content := snap.Content
	for _, op := range ops {
		content, err = typ.Apply(content, op.Op)
		if err != nil {
			return nil, fmt.Errorf("%w: %q at v%d: %w", ErrCorruptHistory, name, op.Version, err)
		}
	}
	committed := snap.Version
	snap.Content = content
	snap.Version += len(ops)

	e = newEntry(name, typ, snap, h)
	e.committed = committed
	e.ops = m.trimOps(ops)

	cur, err := m.insertFetched(e, gen)
	if err != nil {
		return nil, err
	}
	if cur != e {
		return cur, nil
	}
	m.emit(EventLoad, name, snap.Version)
	m.emit(EventAdd, name, snap.Version)
	m.refresh(e)
	return e, nil
}

// insert makes e resident and starts its queue, unless name is already
// resident, in which case the existing entry is returned.
func (m *Model) insert(e *entry) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

// insertFetched is insert for an entry read from the gateway at deleteGen
// gen. It fails with ErrNotFound if the name was deleted since.
func (m *Model) insertFetched(e *entry, gen uint64) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleting[e.name] > 0 || m.deletedAt[e.name] > gen {
		m.log.Debug("dropping load of deleted document", zap.String("doc", e.name))
		return nil, fmt.Errorf("%w: %q was deleted while loading", ErrNotFound, e.name)
	}
	return m.insertLocked(e)
}

func (m *Model) fetchDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetching--; m.fetching == 0 {
		clear(m.deletedAt)
	}
}

func (m *Model) insertLocked(e *entry) (*entry, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if cur, ok := m.docs[e.name]; ok {
		return cur, nil
	}
	m.docs[e.name] = e
	m.stats.residentDelta(1)
	go m.run(e)
	return e, nil
}

func (m *Model) resident(name string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[name]
}

// trimOps keeps the newest NumCachedOps ops when a gateway can serve the rest.
func (m *Model) trimOps(ops []store.OpRecord) []store.OpRecord {
	if m.db == nil || len(ops) <= m.cfg.NumCachedOps {
		return ops
	}
	return append([]store.OpRecord(nil), ops[len(ops)-m.cfg.NumCachedOps:]...)
}

// goBackground runs fn tracked by Close, unless the model is closed.
func (m *Model) goBackground(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		fn()
	}()
	return true
}
