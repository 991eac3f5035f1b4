package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_Lengths(t *testing.T) {
	tests := []struct {
		name         string
		op           Operation
		base, target int
		noop         bool
	}{
		{"empty", Operation{}, 0, 0, true},
		{"retain", Operation{[]Component{{Retain: 5}}}, 5, 5, true},
		{"insert", Operation{[]Component{{Insert: "hi"}}}, 0, 2, false},
		{"delete", Operation{[]Component{{Delete: 3}}}, 3, 0, false},
		{"mixed", Operation{[]Component{{Retain: 2}, {Insert: "x"}, {Delete: 1}, {Retain: 3}}}, 6, 6, false},
		{"NewInsert", NewInsert(3, "abc", 10), 10, 13, false},
		{"NewDelete", NewDelete(2, 3, 10), 10, 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.base, tt.op.BaseLen(), "BaseLen")
			assert.Equal(t, tt.target, tt.op.TargetLen(), "TargetLen")
			assert.Equal(t, tt.noop, tt.op.IsNoop(), "IsNoop")
		})
	}
}

func TestOperation_Validate(t *testing.T) {
	assert.NoError(t, NewInsert(1, "x", 3).Validate())
	assert.NoError(t, Operation{}.Validate())

	for _, c := range []Component{{}, {Retain: -1}, {Delete: -2}, {Retain: 1, Insert: "x"}, {Insert: "x", Delete: 1}} {
		assert.Error(t, Operation{[]Component{c}}.Validate(), "%+v", c)
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		op   Operation
		want string
	}{
		{"insert at start", "hello", NewInsert(0, "X", 5), "Xhello"},
		{"insert at end", "hello", NewInsert(5, "!", 5), "hello!"},
		{"insert in middle", "hello", NewInsert(2, "XY", 5), "heXYllo"},
		{"delete at start", "hello", NewDelete(0, 2, 5), "llo"},
		{"delete at end", "hello", NewDelete(3, 2, 5), "hel"},
		{"delete in middle", "hello", NewDelete(1, 3, 5), "ho"},
		{"insert into empty", "", Operation{[]Component{{Insert: "hi"}}}, "hi"},
		{"retain all", "hello", Operation{[]Component{{Retain: 5}}}, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.doc, tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_Rejects(t *testing.T) {
	_, err := Apply("hi", NewInsert(0, "x", 5))
	assert.ErrorContains(t, err, "base length")

	_, err = Apply("hi", Operation{[]Component{{Retain: 2, Delete: 1}}})
	assert.ErrorContains(t, err, "malformed")
}
