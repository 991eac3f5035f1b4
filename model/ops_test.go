package model

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/store"
)

func versionsOf(ops []store.OpRecord) []int {
	vs := make([]int, len(ops))
	for i, op := range ops {
		vs[i] = op.Version
	}
	return vs
}

func TestGetOps_FillsGapFromGateway(t *testing.T) {
	ctx := context.Background()
	db := newTestStore()
	cfg := testConfig()
	cfg.NumCachedOps = 2
	stats := NewStats(prometheus.NewRegistry())
	m := newTestModel(t, db, cfg, WithStats(stats))
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))
	typeText(t, m, "doc", "abcde")

	ops, err := m.GetOps(ctx, "doc", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, versionsOf(ops))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.cacheMisses.WithLabelValues(siteGetOps)))

	ops, err = m.GetOps(ctx, "doc", 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, versionsOf(ops))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.cacheHits.WithLabelValues(siteGetOps)))

	content := ""
	ops, err = m.GetOps(ctx, "doc", 0, store.Latest)
	require.NoError(t, err)
	require.Len(t, ops, 5)
	for _, op := range ops {
		next, err := ot.Text{}.Apply(content, op.Op)
		require.NoError(t, err)
		content = next.(string)
	}
	assert.Equal(t, "abcde", content)
}

func TestGetOps_Ranges(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t, nil, testConfig())
	require.NoError(t, m.Create(ctx, "doc", ot.TextName, nil))
	typeText(t, m, "doc", "abc")

	tests := []struct {
		name       string
		start, end int
		want       []int
		err        error
	}{
		{"all", 0, store.Latest, []int{0, 1, 2}, nil},
		{"middle", 1, 2, []int{1}, nil},
		{"end clamped", 1, 10, []int{1, 2}, nil},
		{"empty", 3, store.Latest, []int{}, nil},
		{"start past end", 5, store.Latest, []int{}, nil},
		{"negative start", -1, 2, nil, ErrInvalidRange},
		{"end before start", 2, 1, nil, ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := m.GetOps(ctx, "doc", tt.start, tt.end)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, versionsOf(ops))
		})
	}

	_, err := m.GetOps(ctx, "missing", 0, store.Latest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOps_NonResidentReadsGateway(t *testing.T) {
	ctx := context.Background()
	db := newTestStore()
	writer := newTestModel(t, db, testConfig())
	require.NoError(t, writer.Create(ctx, "doc", ot.TextName, nil))
	typeText(t, writer, "doc", "abc")

	reader := newTestModel(t, db, testConfig())
	ops, err := reader.GetOps(ctx, "doc", 1, store.Latest)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versionsOf(ops))
	assert.Nil(t, reader.resident("doc"))

	_, err = reader.GetOps(ctx, "missing", 0, store.Latest)
	assert.ErrorIs(t, err, ErrNotFound)
}
