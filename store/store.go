package store

import (
	"context"
	"errors"
	"time"
)

// Latest as the end of a GetOps range means "through the newest op".
const Latest = -1

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict means the store's state moved underneath a write, e.g. a
	// snapshot precondition failed or an op was appended at the wrong index.
	ErrConflict = errors.New("store conflict")
	// ErrCorruptRecord means a stored op could not be decoded. Reading it
	// again will not help.
	ErrCorruptRecord = errors.New("corrupt record")
)

// SnapshotRecord is the durable form of a document at a version.
type SnapshotRecord struct {
	Content any            `json:"content"`
	Version int            `json:"v"`
	Type    string         `json:"type"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// OpMeta travels with every applied operation.
type OpMeta struct {
	// Source identifies the submitter; it is what later submissions list in
	// their dedup tags.
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"ts"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// OpRecord is one entry of a document's op log. Version is the document
// version the op was applied at.
type OpRecord struct {
	Op      any    `json:"op"`
	Version int    `json:"v"`
	Meta    OpMeta `json:"meta"`
}

// Handle is an opaque token a gateway hands out on create/load and expects
// back on later writes for the same document.
type Handle any

// Gateway abstracts durable document persistence.
// Implementations: MemoryStore, RedisStore, FirestoreStore.
type Gateway interface {
	GetSnapshot(ctx context.Context, name string) (SnapshotRecord, Handle, error)
	// GetOps returns ops with versions in [start, end), or from start onwards
	// when end is Latest.
	GetOps(ctx context.Context, name string, start, end int) ([]OpRecord, error)
	WriteOp(ctx context.Context, name string, op OpRecord) error
	WriteSnapshot(ctx context.Context, name string, snap SnapshotRecord, h Handle) (Handle, error)
	Create(ctx context.Context, name string, snap SnapshotRecord) (Handle, error)
	Delete(ctx context.Context, name string, h Handle) error
	Close() error
}
