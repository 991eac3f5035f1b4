package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// converge applies a then b', and b then a', requires both paths to agree
// and returns the result.
func converge(t *testing.T, doc string, a, b Operation) string {
	t.Helper()
	aPrime, bPrime, err := Transform(a, b)
	require.NoError(t, err)

	afterA, err := Apply(doc, a)
	require.NoError(t, err)
	viaA, err := Apply(afterA, bPrime)
	require.NoError(t, err, "b' = %+v", bPrime.Ops)

	afterB, err := Apply(doc, b)
	require.NoError(t, err)
	viaB, err := Apply(afterB, aPrime)
	require.NoError(t, err, "a' = %+v", aPrime.Ops)

	require.Equal(t, viaA, viaB, "a=%+v b=%+v", a.Ops, b.Ops)
	return viaA
}

func TestTransform_Converges(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		a, b Operation
		want string
	}{
		{"inserts at different positions", "hello", NewInsert(1, "X", 5), NewInsert(3, "Y", 5), "hXelYlo"},
		{"insert tie goes to a", "hello", NewInsert(2, "A", 5), NewInsert(2, "B", 5), "heABllo"},
		{"inserts at both ends", "abc", NewInsert(0, "X", 3), NewInsert(3, "Y", 3), "XabcY"},
		{"inserts into empty doc", "", NewInsert(0, "A", 0), NewInsert(0, "B", 0), "AB"},
		{"insert before delete", "abcde", NewInsert(1, "X", 5), NewDelete(3, 1, 5), "aXbce"},
		{"insert where delete starts", "abcde", NewInsert(2, "X", 5), NewDelete(2, 1, 5), "abXde"},
		{"insert inside deleted span", "abcde", NewInsert(2, "X", 5), NewDelete(1, 3, 5), "aXe"},
		{"delete everything around insert", "abc", NewInsert(1, "X", 3), NewDelete(0, 3, 3), "X"},
		{"delete spans insert", "abcde", NewDelete(1, 3, 5), NewInsert(2, "X", 5), "aXe"},
		{"delete after insert", "abcde", NewDelete(3, 2, 5), NewInsert(1, "X", 5), "aXbc"},
		{"disjoint deletes", "abcdef", NewDelete(0, 2, 6), NewDelete(4, 2, 6), "cd"},
		{"identical deletes", "abcdef", NewDelete(1, 3, 6), NewDelete(1, 3, 6), "aef"},
		{"overlapping deletes", "abcdef", NewDelete(1, 3, 6), NewDelete(2, 3, 6), "af"},
		{"nested deletes", "abcdef", NewDelete(1, 4, 6), NewDelete(2, 2, 6), "af"},
		{"adjacent deletes", "abcdef", NewDelete(0, 3, 6), NewDelete(3, 3, 6), ""},
		{"retain against insert", "hello", Operation{[]Component{{Retain: 5}}}, NewInsert(2, "X", 5), "heXllo"},
		{"multibyte text", "hello", NewInsert(5, " wörld", 5), NewInsert(0, "» ", 5), "» hello wörld"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, converge(t, tt.doc, tt.a, tt.b))
			// Swapping the operands only changes insert ties.
			converge(t, tt.doc, tt.b, tt.a)
		})
	}
}

func TestTransform_MergesComponents(t *testing.T) {
	// a's insert turns into a retain in b'.
	_, bPrime, err := Transform(NewInsert(0, "XY", 4), NewDelete(0, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []Component{{Retain: 2}, {Delete: 1}, {Retain: 3}}, bPrime.Ops)
}

func TestTransform_Errors(t *testing.T) {
	_, _, err := Transform(NewInsert(0, "x", 5), NewInsert(0, "y", 3))
	assert.ErrorContains(t, err, "base lengths differ")

	_, _, err = Transform(Operation{[]Component{{Retain: 1, Delete: 1}}}, NewInsert(0, "y", 2))
	assert.ErrorContains(t, err, "malformed")
}

func TestTransformSide(t *testing.T) {
	op := NewInsert(1, "X", 2)
	other := NewInsert(1, "Y", 2)
	afterOther, err := Apply("ab", other)
	require.NoError(t, err)

	for side, want := range map[Side]string{SideLeft: "aXYb", SideRight: "aYXb"} {
		t.Run(string(side), func(t *testing.T) {
			prime, err := TransformSide(op, other, side)
			require.NoError(t, err)
			got, err := Apply(afterOther, prime)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err = TransformSide(op, other, Side("middle"))
	assert.Error(t, err)
}

func TestTransformSide_OnlyTiesDependOnSide(t *testing.T) {
	op := NewDelete(0, 1, 5)
	other := NewInsert(4, "Z", 5)
	left, err := TransformSide(op, other, SideLeft)
	require.NoError(t, err)
	right, err := TransformSide(op, other, SideRight)
	require.NoError(t, err)
	assert.Equal(t, left, right)

	afterOther, err := Apply("hello", other)
	require.NoError(t, err)
	got, err := Apply(afterOther, left)
	require.NoError(t, err)
	assert.Equal(t, "ellZo", got)
}
