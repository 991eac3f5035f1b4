package model

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
	"github.com/sanity-io/litter"
	"go.uber.org/zap"

	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/store"
)

// Submission is an operation a client wants applied.
type Submission struct {
	Op any
	// Version is the document version the op was written against.
	Version int
	Meta    store.OpMeta
	// DupIfSource rejects the op if any op it transforms past came from one
	// of these sources.
	DupIfSource []string
}

type request struct {
	ctx   context.Context
	sub   Submission
	meta  *metaOp
	reply chan result
}

type result struct {
	version int
	err     error
}

// ApplyOp transforms sub against everything applied since sub.Version,
// persists it, applies it and broadcasts it to listeners. It returns the
// version the op was applied at. Submissions to one document are handled
// strictly in arrival order.
func (m *Model) ApplyOp(ctx context.Context, name string, sub Submission) (int, error) {
	e, err := m.acquire(ctx, name, siteApplyOp)
	if err != nil {
		return 0, err
	}
	res := e.submit(&request{ctx: ctx, sub: sub, reply: make(chan result, 1)})
	m.refresh(e)
	return res.version, res.err
}

// acquire loads name and marks a submission as pending so the entry is not
// reaped before the submission reaches its queue.
func (m *Model) acquire(ctx context.Context, name, site string) (*entry, error) {
	for {
		e, err := m.load(ctx, name, site)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.docs[name] == e {
			e.pending.Add(1)
			m.mu.Unlock()
			return e, nil
		}
		m.mu.Unlock()
		// Evicted between load and here; load again.
	}
}

func (e *entry) submit(req *request) result {
	select {
	case e.queue <- req:
	case <-e.done:
		e.pending.Add(-1)
		return result{err: e.stopErr}
	}
	select {
	case res := <-req.reply:
		return res
	case <-e.done:
		select {
		case res := <-req.reply:
			return res
		default:
			return result{err: e.stopErr}
		}
	}
}

// run is the entry's queue loop. Only this goroutine advances the document.
func (m *Model) run(e *entry) {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			m.drain(e)
			return
		default:
		}
		select {
		case req := <-e.queue:
			m.process(e, req)
		case <-e.stop:
			m.drain(e)
			return
		}
	}
}

func (m *Model) drain(e *entry) {
	for {
		select {
		case req := <-e.queue:
			e.pending.Add(-1)
			req.reply <- result{err: e.stopErr}
		default:
			return
		}
	}
}

func (m *Model) process(e *entry, req *request) {
	var res result
	if req.meta != nil {
		res = m.applyMetaOp(e, req.meta)
	} else {
		res = m.applyOp(e, req)
	}
	e.pending.Add(-1)
	req.reply <- res
	if res.err == nil && req.meta == nil {
		m.maybeCommit(e)
	}
}

func (m *Model) applyOp(e *entry, req *request) result {
	ctx := context.WithoutCancel(req.ctx)
	sub := req.sub
	log := m.log.With(zap.String("doc", e.name), zap.Int("opVersion", sub.Version))

	e.mu.Lock()
	current, content := e.version, e.content
	e.mu.Unlock()

	switch {
	case sub.Version < 0:
		return result{err: fmt.Errorf("%w: got %d", ErrVersionMissing, sub.Version)}
	case sub.Version > current:
		return result{err: fmt.Errorf("%w: op v%d, document v%d", ErrVersionInFuture, sub.Version, current)}
	case current-sub.Version > m.cfg.MaxOpStaleness:
		return result{err: fmt.Errorf("%w: op v%d, document v%d", ErrOpTooOld, sub.Version, current)}
	}

	meta := sub.Meta
	if meta.Timestamp.IsZero() {
		meta.Timestamp = m.now()
	}

	history, err := m.getOps(ctx, e, sub.Version, current)
	if err != nil {
		return result{err: opsError(fmt.Errorf("history: %w", err))}
	}
	if len(history) != current-sub.Version {
		log.Error("history length mismatch", zap.Int("want", current-sub.Version), zap.Int("got", len(history)))
		return result{err: fmt.Errorf("%w: expected %d ops since v%d, got %d",
			ErrInternalInconsistency, current-sub.Version, sub.Version, len(history))}
	}

	op := sub.Op
	v := sub.Version
	dups := mapset.NewThreadUnsafeSet(sub.DupIfSource...)
	for _, h := range history {
		if h.Meta.Source != "" && dups.Contains(h.Meta.Source) {
			return result{err: fmt.Errorf("%w: source %q at v%d", ErrDuplicateSubmission, h.Meta.Source, h.Version)}
		}
		op, err = e.typ.Transform(op, h.Op, ot.SideLeft)
		if err != nil {
			return result{err: fmt.Errorf("%w: against v%d: %w", ErrTransformFailed, h.Version, err)}
		}
		v++
	}

	next, err := e.typ.Apply(content, op)
	if err != nil {
		return result{err: fmt.Errorf("%w: %w", ErrApplyFailed, err)}
	}
	if limit := m.cfg.MaxContentLength; limit > 0 {
		if n := contentSize(e.typ, next); n > limit {
			return result{err: fmt.Errorf("%w: %d > %d", ErrContentTooLarge, n, limit)}
		}
	}
	if v != current {
		log.Error("version mismatch after transform", zap.Int("current", current), zap.String("history", litter.Sdump(history)))
		return result{err: fmt.Errorf("%w: transformed to v%d, document at v%d", ErrInternalInconsistency, v, current)}
	}

	rec := store.OpRecord{Op: op, Version: v, Meta: meta}
	if m.db != nil {
		if err := m.db.WriteOp(ctx, e.name, rec); err != nil {
			log.Warn("op write failed", zap.Error(err))
			return result{err: fmt.Errorf("%w: write op: %w", ErrPersistence, err)}
		}
		m.stats.writeOp()
	}

	e.mu.Lock()
	e.version = v + 1
	e.content = next
	e.ops = append(e.ops, rec)
	if m.db != nil && len(e.ops) > m.cfg.NumCachedOps {
		e.ops = e.ops[len(e.ops)-m.cfg.NumCachedOps:]
	}
	subs := e.listeners.ToSlice()
	e.mu.Unlock()

	for _, s := range subs {
		s.deliver(rec)
	}
	m.emit(EventApplyOp, e.name, v+1)
	return result{version: v}
}

// maybeCommit starts a background snapshot write once enough ops have
// accumulated past the committed version.
func (m *Model) maybeCommit(e *entry) {
	if m.db == nil {
		return
	}
	e.mu.Lock()
	due := e.writing == nil && e.committed+m.cfg.OpsBeforeSnapshotCommit <= e.version
	e.mu.Unlock()
	if !due {
		return
	}
	m.goBackground(func() {
		err := m.writeSnapshot(context.Background(), e)
		if err != nil && !errors.Is(err, ErrWriteInProgress) {
			m.log.Warn("background snapshot write failed", zap.String("doc", e.name), zap.Error(err))
		}
	})
}

func contentSize(typ ot.Type, content any) int {
	if s, ok := typ.(ot.Sizer); ok {
		return s.Size(content)
	}
	b, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(b)
}
