package model

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/alimasry/go-collab-model/store"
)

// Listener receives applied ops in version order, along with its own
// subscription so it can Unlisten from inside a call. It runs on the
// document's queue goroutine and must not submit to the same document
// synchronously. Meta ops arrive with a nil Op and their path and value in
// Meta.Fields.
type Listener func(sub *Subscription, rec store.OpRecord)

// Subscription is a registered Listener.
type Subscription struct {
	name   string
	fn     Listener
	mu     sync.Mutex // serializes delivery
	active atomic.Bool
}

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) deliver(rec store.OpRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		s.fn(s, rec)
	}
}

// Listen attaches fn to a document, loading it if needed. With from nil,
// fn sees every op applied after the call. Otherwise the ops since *from
// are replayed to fn first; replay stops as soon as fn unlistens. It returns
// the version fn's stream starts at. While any listener is attached the
// document is not evicted.
func (m *Model) Listen(ctx context.Context, name string, from *int, fn Listener) (*Subscription, int, error) {
	sub := &Subscription{name: name, fn: fn}
	sub.active.Store(true)

	var (
		e       *entry
		current int
	)
	for {
		var err error
		e, err = m.load(ctx, name, siteListen)
		if err != nil {
			return nil, 0, err
		}
		e.mu.Lock()
		if !e.evicted {
			break
		}
		e.mu.Unlock()
	}

	current = e.version
	if from != nil && (*from < 0 || *from > current) {
		e.mu.Unlock()
		m.refresh(e)
		return nil, 0, fmt.Errorf("%w: listen from v%d, document v%d", ErrInvalidRange, *from, current)
	}
	e.cancelReap()
	e.listeners.Add(sub)
	// Hold delivery until the replay below is done; ops applied from now
	// on queue up behind it.
	sub.mu.Lock()
	e.mu.Unlock()
	defer sub.mu.Unlock()

	if from == nil || *from == current {
		return sub, current, nil
	}
	ops, err := m.getOps(ctx, e, *from, current)
	if err != nil {
		sub.active.Store(false)
		e.mu.Lock()
		e.listeners.Remove(sub)
		e.mu.Unlock()
		m.refresh(e)
		return nil, 0, opsError(fmt.Errorf("replay: %w", err))
	}
	for _, op := range ops {
		if !sub.active.Load() {
			break
		}
		fn(sub, op)
	}
	return sub, *from, nil
}

// Unlisten detaches sub. Ops already being delivered may still reach it.
func (m *Model) Unlisten(sub *Subscription) error {
	sub.active.Store(false)
	e := m.resident(sub.name)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, sub.name)
	}
	e.mu.Lock()
	e.listeners.Remove(sub)
	e.mu.Unlock()
	m.refresh(e)
	return nil
}

type metaOp struct {
	path  []string
	value any
}

// ApplyMetaOp applies a metadata operation, ordered with the document's other
// submissions. A path starting with "shout" delivers value to every listener
// without changing the document; other paths are accepted and ignored.
func (m *Model) ApplyMetaOp(ctx context.Context, name string, path []string, value any) (int, error) {
	if len(path) == 0 {
		return 0, fmt.Errorf("%w: empty path", ErrInvalidMetaOp)
	}
	e, err := m.acquire(ctx, name, siteApplyMetaOp)
	if err != nil {
		return 0, err
	}
	res := e.submit(&request{
		ctx:   ctx,
		meta:  &metaOp{path: slices.Clone(path), value: value},
		reply: make(chan result, 1),
	})
	m.refresh(e)
	return res.version, res.err
}

func (m *Model) applyMetaOp(e *entry, op *metaOp) result {
	e.mu.Lock()
	v := e.version
	subs := e.listeners.ToSlice()
	e.mu.Unlock()
	if op.path[0] != "shout" {
		return result{version: v}
	}

	rec := store.OpRecord{
		Version: v,
		Meta: store.OpMeta{
			Timestamp: m.now(),
			Fields:    map[string]any{"path": op.path, "value": op.value},
		},
	}
	for _, s := range subs {
		s.deliver(rec)
	}
	m.log.Debug("meta op", zap.String("doc", e.name), zap.Strings("path", op.path))
	m.emit(EventApplyMetaOp, e.name, v)
	return result{version: v}
}
