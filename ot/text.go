package ot

import (
	"fmt"

	"github.com/goccy/go-json"
)

// TextName is the registered name of the plain-text type.
const TextName = "text"

// Text is the plain-text document type. Content is a string and operations
// are Operation values (or *Operation).
type Text struct{}

var (
	_ Type  = Text{}
	_ Sizer = Text{}
)

func (Text) Name() string { return TextName }

func (Text) Create() any { return "" }

func (Text) Transform(op, other any, side Side) (any, error) {
	a, err := asOperation(op)
	if err != nil {
		return nil, err
	}
	b, err := asOperation(other)
	if err != nil {
		return nil, err
	}
	return TransformSide(a, b, side)
}

func (Text) Apply(content, op any) (any, error) {
	doc, ok := content.(string)
	if !ok {
		return nil, fmt.Errorf("text content must be a string, got %T", content)
	}
	o, err := asOperation(op)
	if err != nil {
		return nil, err
	}
	return Apply(doc, o)
}

func (Text) Size(content any) int {
	s, _ := content.(string)
	return len(s)
}

func (Text) DecodeOp(data []byte) (any, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("decode text op: %w", err)
	}
	return op, nil
}

func (Text) DecodeContent(data []byte) (any, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode text content: %w", err)
	}
	return s, nil
}

func asOperation(v any) (Operation, error) {
	switch op := v.(type) {
	case Operation:
		return op, nil
	case *Operation:
		if op == nil {
			return Operation{}, fmt.Errorf("nil text operation")
		}
		return *op, nil
	default:
		return Operation{}, fmt.Errorf("text operation must be ot.Operation, got %T", v)
	}
}
