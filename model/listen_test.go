package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/store"
)

func TestListen_LiveOps(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t, newTestStore(), testConfig())
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))
	typeText(t, m, "doc", "ab")

	var got []store.OpRecord
	sub, v, err := m.Listen(ctx, "doc", nil, func(_ *Subscription, rec store.OpRecord) { got = append(got, rec) })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, "doc", sub.Name())

	typeText(t, m, "doc", "cd")
	assert.Equal(t, []int{2, 3}, versionsOf(got))

	require.NoError(t, m.Unlisten(sub))
	typeText(t, m, "doc", "e")
	assert.Len(t, got, 2)
}

func TestListen_ReplaysFromVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestStore()
	cfg := testConfig()
	cfg.NumCachedOps = 1
	m := newTestModel(t, db, cfg)
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))
	typeText(t, m, "doc", "abc")

	var got []store.OpRecord
	from := 0
	_, v, err := m.Listen(ctx, "doc", &from, func(_ *Subscription, rec store.OpRecord) { got = append(got, rec) })
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	assert.Equal(t, []int{0, 1, 2}, versionsOf(got))

	typeText(t, m, "doc", "d")
	assert.Equal(t, []int{0, 1, 2, 3}, versionsOf(got))

	content := ""
	for _, rec := range got {
		next, err := ot.Text{}.Apply(content, rec.Op)
		require.NoError(t, err)
		content = next.(string)
	}
	assert.Equal(t, "abcd", content)
}

func TestListen_UnlistenDuringReplay(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t, newTestStore(), testConfig())
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))
	typeText(t, m, "doc", "abcde")

	var got []int
	from := 0
	sub, _, err := m.Listen(ctx, "doc", &from, func(sub *Subscription, rec store.OpRecord) {
		got = append(got, rec.Version)
		if len(got) == 2 {
			require.NoError(t, m.Unlisten(sub))
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got)

	typeText(t, m, "doc", "f")
	assert.Equal(t, []int{0, 1}, got)

	e := m.resident("doc")
	require.NotNil(t, e)
	e.mu.Lock()
	assert.False(t, e.listeners.Contains(sub))
	e.mu.Unlock()
}

func TestListen_Errors(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t, newTestStore(), testConfig())
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))

	from := 3
	_, _, err := m.Listen(ctx, "doc", &from, func(*Subscription, store.OpRecord) {})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, _, err = m.Listen(ctx, "missing", nil, func(*Subscription, store.OpRecord) {})
	assert.ErrorIs(t, err, ErrNotFound)

	e := m.resident("doc")
	require.NotNil(t, e)
	e.mu.Lock()
	assert.Zero(t, e.listeners.Cardinality())
	e.mu.Unlock()
}

func TestUnlisten_NotResident(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t, nil, testConfig())
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))
	sub, _, err := m.Listen(ctx, "doc", nil, func(*Subscription, store.OpRecord) {})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "doc"))
	assert.ErrorIs(t, m.Unlisten(sub), ErrNotFound)
}

func TestApplyMetaOp_Shout(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t, nil, testConfig())
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))
	typeText(t, m, "doc", "a")

	var got []store.OpRecord
	_, _, err := m.Listen(ctx, "doc", nil, func(_ *Subscription, rec store.OpRecord) { got = append(got, rec) })
	require.NoError(t, err)

	v, err := m.ApplyMetaOp(ctx, "doc", []string{"shout"}, map[string]any{"cursor": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Op)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, []string{"shout"}, got[0].Meta.Fields["path"])
	assert.Equal(t, map[string]any{"cursor": 1}, got[0].Meta.Fields["value"])

	_, err = m.ApplyMetaOp(ctx, "doc", []string{"title"}, "x")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = m.ApplyMetaOp(ctx, "doc", nil, "x")
	assert.ErrorIs(t, err, ErrInvalidMetaOp)

	snap, err := m.GetSnapshot(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version)
}
