package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alimasry/go-collab-model/ot"
)

// FirestoreStore is a Firestore-backed Gateway. Each document lives in
// the "documents" collection with its ops in an "operations" subcollection
// keyed by zero-padded version. The handle is the document's last update
// time, used as a precondition on snapshot writes.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	codec      codec
	maxRetries uint64
}

var _ Gateway = (*FirestoreStore)(nil)

// NewFirestoreStore creates a new FirestoreStore using the given Firestore client.
func NewFirestoreStore(client *firestore.Client, types *ot.Registry) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: "documents",
		codec:      codec{types: types},
		maxRetries: 3,
	}
}

func (s *FirestoreStore) docRef(name string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(name)
}

func (s *FirestoreStore) opsCollection(name string) *firestore.CollectionRef {
	return s.docRef(name).Collection("operations")
}

func zeroPad(version int) string {
	return fmt.Sprintf("%010d", version)
}

// retry re-runs idempotent reads on transient gRPC failures.
func (s *FirestoreStore) retry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := fn()
		switch status.Code(err) {
		case codes.Unavailable, codes.Aborted, codes.DeadlineExceeded:
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

func (s *FirestoreStore) snapshotFields(snap SnapshotRecord) (map[string]interface{}, error) {
	content, err := encodeContent(snap.Content)
	if err != nil {
		return nil, err
	}
	meta, err := encodeMeta(snap.Meta)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"type":      snap.Type,
		"version":   snap.Version,
		"content":   string(content),
		"meta":      string(meta),
		"updatedAt": time.Now(),
	}, nil
}

func (s *FirestoreStore) Create(ctx context.Context, name string, snap SnapshotRecord) (Handle, error) {
	fields, err := s.snapshotFields(snap)
	if err != nil {
		return nil, err
	}
	fields["createdAt"] = fields["updatedAt"]
	res, err := s.docRef(name).Create(ctx, fields)
	if status.Code(err) == codes.AlreadyExists {
		return nil, fmt.Errorf("create %q: %w", name, ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	return res.UpdateTime, nil
}

func (s *FirestoreStore) GetSnapshot(ctx context.Context, name string) (SnapshotRecord, Handle, error) {
	var snap *firestore.DocumentSnapshot
	err := s.retry(ctx, func() error {
		var err error
		snap, err = s.docRef(name).Get(ctx)
		return err
	})
	if status.Code(err) == codes.NotFound {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: %w", name, err)
	}
	rec, err := s.docToSnapshot(snap)
	if err != nil {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: %w", name, err)
	}
	return rec, snap.UpdateTime, nil
}

func (s *FirestoreStore) docToSnapshot(snap *firestore.DocumentSnapshot) (SnapshotRecord, error) {
	data := snap.Data()
	typeName, _ := data["type"].(string)
	version, _ := data["version"].(int64)
	content, _ := data["content"].(string)
	meta, _ := data["meta"].(string)
	return s.codec.decodeSnapshot(typeName, int(version), []byte(content), []byte(meta))
}

func (s *FirestoreStore) WriteSnapshot(ctx context.Context, name string, snap SnapshotRecord, h Handle) (Handle, error) {
	fields, err := s.snapshotFields(snap)
	if err != nil {
		return nil, err
	}
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	var preconds []firestore.Precondition
	if t, ok := h.(time.Time); ok && !t.IsZero() {
		preconds = append(preconds, firestore.LastUpdateTime(t))
	}

	res, err := s.docRef(name).Update(ctx, updates, preconds...)
	switch status.Code(err) {
	case codes.OK:
		return res.UpdateTime, nil
	case codes.NotFound:
		return nil, fmt.Errorf("write snapshot %q: %w", name, ErrNotFound)
	case codes.FailedPrecondition:
		return nil, fmt.Errorf("write snapshot %q v%d: %w", name, snap.Version, ErrConflict)
	default:
		return nil, fmt.Errorf("write snapshot %q: %w", name, err)
	}
}

func (s *FirestoreStore) WriteOp(ctx context.Context, name string, op OpRecord) error {
	data, err := encodeOp(op)
	if err != nil {
		return err
	}
	// Create fails if an op already sits at this version, so two writers
	// cannot both claim it.
	_, err = s.opsCollection(name).Doc(zeroPad(op.Version)).Create(ctx, map[string]interface{}{
		"record":  string(data),
		"version": op.Version,
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("write op %q v%d: %w", name, op.Version, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("write op %q v%d: %w", name, op.Version, err)
	}
	return nil
}

func (s *FirestoreStore) GetOps(ctx context.Context, name string, start, end int) ([]OpRecord, error) {
	snap, _, err := s.GetSnapshot(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get ops: %w", err)
	}
	typ, err := s.codec.lookup(snap.Type)
	if err != nil {
		return nil, fmt.Errorf("get ops %q: %w", name, err)
	}
	if end != Latest && end <= start {
		return nil, nil
	}

	var ops []OpRecord
	err = s.retry(ctx, func() error {
		ops = ops[:0]
		q := s.opsCollection(name).
			OrderBy(firestore.DocumentID, firestore.Asc).
			StartAt(zeroPad(start))
		if end != Latest {
			q = q.EndBefore(zeroPad(end))
		}
		iter := q.Documents(ctx)
		defer iter.Stop()

		for {
			doc, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			raw, _ := doc.Data()["record"].(string)
			op, err := decodeOp(typ, []byte(raw))
			if err != nil {
				return backoff.Permanent(fmt.Errorf("operation %s: %w", doc.Ref.ID, err))
			}
			ops = append(ops, op)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("get ops %q: %w", name, err)
	}
	return ops, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, name string, _ Handle) error {
	iter := s.opsCollection(name).Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("delete %q ops: %w", name, err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return fmt.Errorf("delete %q op %s: %w", name, doc.Ref.ID, err)
		}
	}
	bw.End()

	_, err := s.docRef(name).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
