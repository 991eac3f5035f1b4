package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/alimasry/go-collab-model/ot"
)

// Script results below zero are error codes.
const (
	scriptNotFound = -1
	scriptConflict = -2
	scriptExists   = -3
)

// createScript writes the snapshot hash unless the document exists.
// KEYS: doc hash. ARGV: type, version, content, meta.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -3 end
redis.call('HSET', KEYS[1], 'type', ARGV[1], 'v', ARGV[2], 'content', ARGV[3], 'meta', ARGV[4])
return 1
`)

// appendOpScript pushes an op only if it lands at the index equal to its version.
// KEYS: doc hash, op list. ARGV: version, encoded op.
var appendOpScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('LLEN', KEYS[2]) ~= tonumber(ARGV[1]) then return -2 end
return redis.call('RPUSH', KEYS[2], ARGV[2])
`)

// writeSnapshotScript replaces the snapshot unless it is older than the stored
// one or claims more ops than logged.
// KEYS: doc hash, op list. ARGV: type, version, content, meta.
var writeSnapshotScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if tonumber(redis.call('HGET', KEYS[1], 'v')) > tonumber(ARGV[2]) then return -2 end
if redis.call('LLEN', KEYS[2]) < tonumber(ARGV[2]) then return -2 end
redis.call('HSET', KEYS[1], 'type', ARGV[1], 'v', ARGV[2], 'content', ARGV[3], 'meta', ARGV[4])
return 1
`)

// RedisStore keeps each document as a snapshot hash plus a list of encoded
// ops whose index equals the op version.
type RedisStore struct {
	client redis.UniversalClient
	codec  codec
	prefix string
	log    *zap.Logger
}

var _ Gateway = (*RedisStore)(nil)

// NewRedisStore uses client for storage; keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, types *ot.Registry, prefix string, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		codec:  codec{types: types},
		prefix: prefix,
		log:    log.Named("store.redis"),
	}
}

func (s *RedisStore) docKey(name string) string { return s.prefix + "doc:" + name }
func (s *RedisStore) opsKey(name string) string { return s.prefix + "ops:" + name }

func (s *RedisStore) snapshotArgs(snap SnapshotRecord) ([]interface{}, error) {
	content, err := encodeContent(snap.Content)
	if err != nil {
		return nil, err
	}
	meta, err := encodeMeta(snap.Meta)
	if err != nil {
		return nil, err
	}
	return []interface{}{snap.Type, snap.Version, content, meta}, nil
}

func (s *RedisStore) Create(ctx context.Context, name string, snap SnapshotRecord) (Handle, error) {
	args, err := s.snapshotArgs(snap)
	if err != nil {
		return nil, err
	}
	res, err := createScript.Run(ctx, s.client, []string{s.docKey(name)}, args...).Int()
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	if res == scriptExists {
		return nil, fmt.Errorf("create %q: %w", name, ErrAlreadyExists)
	}
	return nil, nil
}

func (s *RedisStore) GetSnapshot(ctx context.Context, name string) (SnapshotRecord, Handle, error) {
	fields, err := s.client.HGetAll(ctx, s.docKey(name)).Result()
	if err != nil {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: %w", name, err)
	}
	if len(fields) == 0 {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: %w", name, ErrNotFound)
	}
	version, err := strconv.Atoi(fields["v"])
	if err != nil {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: bad version %q: %w", name, fields["v"], err)
	}
	snap, err := s.codec.decodeSnapshot(fields["type"], version, []byte(fields["content"]), []byte(fields["meta"]))
	if err != nil {
		return SnapshotRecord{}, nil, fmt.Errorf("get snapshot %q: %w", name, err)
	}
	return snap, nil, nil
}

func (s *RedisStore) WriteSnapshot(ctx context.Context, name string, snap SnapshotRecord, _ Handle) (Handle, error) {
	args, err := s.snapshotArgs(snap)
	if err != nil {
		return nil, err
	}
	res, err := writeSnapshotScript.Run(ctx, s.client, []string{s.docKey(name), s.opsKey(name)}, args...).Int()
	if err != nil {
		return nil, fmt.Errorf("write snapshot %q: %w", name, err)
	}
	switch res {
	case scriptNotFound:
		return nil, fmt.Errorf("write snapshot %q: %w", name, ErrNotFound)
	case scriptConflict:
		return nil, fmt.Errorf("write snapshot %q v%d: %w", name, snap.Version, ErrConflict)
	}
	return nil, nil
}

func (s *RedisStore) WriteOp(ctx context.Context, name string, op OpRecord) error {
	data, err := encodeOp(op)
	if err != nil {
		return err
	}
	res, err := appendOpScript.Run(ctx, s.client, []string{s.docKey(name), s.opsKey(name)}, op.Version, data).Int()
	if err != nil {
		return fmt.Errorf("write op %q v%d: %w", name, op.Version, err)
	}
	switch res {
	case scriptNotFound:
		return fmt.Errorf("write op %q: %w", name, ErrNotFound)
	case scriptConflict:
		return fmt.Errorf("write op %q v%d: %w", name, op.Version, ErrConflict)
	}
	return nil
}

func (s *RedisStore) GetOps(ctx context.Context, name string, start, end int) ([]OpRecord, error) {
	typeName, err := s.client.HGet(ctx, s.docKey(name), "type").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get ops %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ops %q: %w", name, err)
	}
	typ, err := s.codec.lookup(typeName)
	if err != nil {
		return nil, fmt.Errorf("get ops %q: %w", name, err)
	}
	if end != Latest && end <= start {
		return nil, nil
	}

	stop := int64(-1)
	if end != Latest {
		stop = int64(end - 1)
	}
	raw, err := s.client.LRange(ctx, s.opsKey(name), int64(start), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("get ops %q: %w", name, err)
	}
	ops := make([]OpRecord, 0, len(raw))
	for i, data := range raw {
		op, err := decodeOp(typ, []byte(data))
		if err != nil {
			return nil, fmt.Errorf("get ops %q at %d: %w", name, start+i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (s *RedisStore) Delete(ctx context.Context, name string, _ Handle) error {
	n, err := s.client.Del(ctx, s.docKey(name), s.opsKey(name)).Result()
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	s.log.Debug("document deleted", zap.String("doc", name))
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
