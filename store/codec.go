package store

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/alimasry/go-collab-model/ot"
)

// ErrUnknownType is returned by serializing gateways when a stored record
// names a document type the registry does not know.
var ErrUnknownType = errors.New("unknown document type")

// codec turns records into JSON and back, using the document type to decode
// type-owned payloads.
type codec struct {
	types *ot.Registry
}

type encodedOp struct {
	Op      json.RawMessage `json:"op"`
	Version int             `json:"v"`
	Meta    OpMeta          `json:"meta"`
}

func (c codec) lookup(name string) (ot.Type, error) {
	typ, ok := c.types.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return typ, nil
}

func encodeOp(op OpRecord) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode op v%d: %w", op.Version, err)
	}
	return data, nil
}

func decodeOp(typ ot.Type, data []byte) (OpRecord, error) {
	var enc encodedOp
	if err := json.Unmarshal(data, &enc); err != nil {
		return OpRecord{}, fmt.Errorf("%w: op record: %w", ErrCorruptRecord, err)
	}
	op, err := typ.DecodeOp(enc.Op)
	if err != nil {
		return OpRecord{}, fmt.Errorf("%w: op v%d: %w", ErrCorruptRecord, enc.Version, err)
	}
	return OpRecord{Op: op, Version: enc.Version, Meta: enc.Meta}, nil
}

func encodeContent(content any) ([]byte, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return data, nil
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return data, nil
}

func (c codec) decodeSnapshot(typeName string, version int, content, meta []byte) (SnapshotRecord, error) {
	typ, err := c.lookup(typeName)
	if err != nil {
		return SnapshotRecord{}, err
	}
	value, err := typ.DecodeContent(content)
	if err != nil {
		return SnapshotRecord{}, err
	}
	snap := SnapshotRecord{Content: value, Version: version, Type: typeName}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &snap.Meta); err != nil {
			return SnapshotRecord{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	return snap, nil
}
