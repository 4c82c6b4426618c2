package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gigasphere/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var testRequest = model.RunRequest{
	Command:   "pipeline",
	CanonHash: "abc123",
	AsOf:      "2025-06-30",
	Input:     "input.csv",
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "pipeline", got.Command)
		assert.Equal(t, "abc123", got.CanonHash)
		assert.Equal(t, "2025-06-30", got.AsOf)
		assert.Equal(t, "input.csv", got.Input)
		assert.Nil(t, got.Result)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("UpdateRunResult", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)

		result := &model.RunResult{
			Stages:   []model.StageResult{{Name: model.StageModuleOne, RowsIn: 10, RowsOut: 3}},
			Outcomes: map[string]int{"AUTH": 2, "HOLD": 1},
		}
		require.NoError(t, s.UpdateRunResult(ctx, run.ID, result))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, result.Outcomes, got.Result.Outcomes)
		assert.Equal(t, 10, got.Result.Stages[0].RowsIn)
	})

	t.Run("UpdateRunResultFailed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunResult(ctx, run.ID, &model.RunResult{Error: "canon not found"}))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "canon not found", got.Result.Error)
	})

	t.Run("UpdateMissingRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.UpdateRunStatus(ctx, "missing", model.RunStatusFailed)
		assert.True(t, eris.Is(err, ErrNotFound))
		err = s.UpdateRunResult(ctx, "missing", &model.RunResult{})
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("ListRunsFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r1, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)
		req := testRequest
		req.Command = "classify"
		_, err = s.CreateRun(ctx, req)
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, model.RunStatusFailed))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, r1.ID, failed[0].ID)

		classify, err := s.ListRuns(ctx, RunFilter{Command: "classify"})
		require.NoError(t, err)
		require.Len(t, classify, 1)
		assert.Equal(t, "classify", classify[0].Command)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("Stages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)

		st, err := s.CreateStage(ctx, run.ID, model.StageModuleOne)
		require.NoError(t, err)
		assert.Equal(t, model.StageStatusRunning, st.Status)

		require.NoError(t, s.CompleteStage(ctx, st.ID, model.StageStatusComplete, &model.StageResult{
			Name:    model.StageModuleOne,
			RowsIn:  5,
			RowsOut: 2,
		}))

		stages, err := s.ListStages(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, stages, 1)
		assert.Equal(t, model.StageStatusComplete, stages[0].Status)
		require.NotNil(t, stages[0].Result)
		assert.Equal(t, 2, stages[0].Result.RowsOut)

		err = s.CompleteStage(ctx, "missing", model.StageStatusFailed, &model.StageResult{})
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("Decisions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)

		decisions := []model.Decision{
			{EntityID: "E2", Outcome: model.OutcomeBlock, Reason: model.ReasonExceptionSurfaceExceeded},
			{EntityID: "E1", Outcome: model.OutcomeAuth, Reason: model.ReasonMeasurementsSufficient},
		}
		n, err := s.SaveDecisions(ctx, run.ID, decisions)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := s.ListDecisions(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, decisions, got)

		n, err = s.SaveDecisions(ctx, run.ID, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("DecisionsRepeatedEntity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)

		decisions := []model.Decision{
			{EntityID: "E1", Outcome: model.OutcomeAuth, Reason: model.ReasonMeasurementsSufficient},
			{EntityID: "E1", Outcome: model.OutcomeBlock, Reason: model.ReasonExceptionSurfaceExceeded},
			{EntityID: "E2", Outcome: model.OutcomeHold, Reason: "STRUCTURAL_measured_UNMEASURED"},
		}
		n, err := s.SaveDecisions(ctx, run.ID, decisions)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		got, err := s.ListDecisions(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, decisions, got)
	})

	t.Run("RowErrors", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testRequest)
		require.NoError(t, err)

		n, err := s.SaveRowErrors(ctx, run.ID, model.StageCoverage, []model.RowError{
			{Row: 3, EntityID: "E2", Field: "dataset", Value: "GOVERNANCE", Reason: "unknown dataset"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := s.ListRowErrors(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, model.StageCoverage, got[0].Stage)
		assert.Equal(t, 3, got[0].Row)
		assert.Equal(t, "GOVERNANCE", got[0].Value)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestNewSQLite_BadPath(t *testing.T) {
	_, err := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	require.Error(t, err)
}
