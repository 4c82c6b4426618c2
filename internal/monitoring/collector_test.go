package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/store"
)

type mockLister struct {
	runs   []model.Run
	err    error
	filter store.RunFilter
}

func (m *mockLister) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	m.filter = filter
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func TestCollect(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	lister := &mockLister{runs: []model.Run{
		{
			Command:   "pipeline",
			Status:    model.RunStatusComplete,
			CreatedAt: now.Add(-time.Hour),
			Result: &model.RunResult{
				Stages: []model.StageResult{
					{Name: model.StageModuleOne, RowsIn: 10, DurationMs: 30},
					{Name: model.StageModuleTwo, RowsIn: 4, Excluded: 1, DurationMs: 10},
				},
				Outcomes: map[string]int{"AUTH": 2, "HOLD": 1},
			},
		},
		{
			Command:   "classify",
			Status:    model.RunStatusComplete,
			CreatedAt: now.Add(-2 * time.Hour),
			Result: &model.RunResult{
				Stages: []model.StageResult{{Name: model.StageClassify, RowsIn: 6, DurationMs: 20}},
				States: map[string]int{"STRAIN/GREEN": 6},
			},
		},
		{Command: "pipeline", Status: model.RunStatusFailed, CreatedAt: now.Add(-3 * time.Hour), Result: &model.RunResult{Error: "boom"}},
		{Command: "coverage", Status: model.RunStatusRunning, CreatedAt: now.Add(-4 * time.Hour)},
		{Command: "pipeline", Status: model.RunStatusComplete, CreatedAt: now.Add(-72 * time.Hour)},
	}}

	c := NewCollector(lister)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-24*time.Hour), lister.filter.CreatedAfter)
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 1e-9)
	assert.Equal(t, map[string]int{"pipeline": 2, "classify": 1, "coverage": 1}, snap.ByCommand)
	assert.Equal(t, 20, snap.RowsIn)
	assert.Equal(t, 1, snap.RowsExcluded)
	assert.Equal(t, map[string]int{"AUTH": 2, "HOLD": 1}, snap.Outcomes)
	assert.Equal(t, map[string]int{"STRAIN/GREEN": 6}, snap.States)
	assert.Equal(t, int64(30), snap.AvgDurationMs)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollect_AllHistory(t *testing.T) {
	lister := &mockLister{runs: []model.Run{{Status: model.RunStatusComplete, CreatedAt: time.Unix(0, 0)}}}
	snap, err := NewCollector(lister).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, lister.filter.CreatedAfter.IsZero())
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
}

func TestCollect_StoreError(t *testing.T) {
	_, err := NewCollector(&mockLister{err: errors.New("db down")}).Collect(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
