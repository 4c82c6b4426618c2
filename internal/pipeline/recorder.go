package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/store"
)

// recorder writes run history. A nil store disables it, and store failures
// are logged without failing the run.
type recorder struct {
	st store.Store
}

func (r recorder) createRun(ctx context.Context, req model.RunRequest) string {
	if r.st == nil {
		return ""
	}
	run, err := r.st.CreateRun(ctx, req)
	if err != nil {
		zap.L().Warn("pipeline: failed to record run", zap.String("command", req.Command), zap.Error(err))
		return ""
	}
	return run.ID
}

// finishRun records the result. When the result cannot be stored the final
// status is still set, so the run does not stay running.
func (r recorder) finishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) {
	if r.st == nil || runID == "" {
		return
	}
	err := r.st.UpdateRunResult(ctx, runID, result)
	if err == nil {
		return
	}
	zap.L().Warn("pipeline: failed to record run result", zap.String("run_id", runID), zap.Error(err))
	if err := r.st.UpdateRunStatus(ctx, runID, status); err != nil {
		zap.L().Warn("pipeline: failed to record run status", zap.String("run_id", runID), zap.Error(err))
	}
}

func (r recorder) createStage(ctx context.Context, runID, name string) string {
	if r.st == nil || runID == "" {
		return ""
	}
	st, err := r.st.CreateStage(ctx, runID, name)
	if err != nil {
		zap.L().Warn("pipeline: failed to record stage", zap.String("run_id", runID), zap.String("stage", name), zap.Error(err))
		return ""
	}
	return st.ID
}

func (r recorder) completeStage(ctx context.Context, stageID string, status model.StageStatus, result *model.StageResult) {
	if r.st == nil || stageID == "" {
		return
	}
	if err := r.st.CompleteStage(ctx, stageID, status, result); err != nil {
		zap.L().Warn("pipeline: failed to complete stage", zap.String("stage_id", stageID), zap.Error(err))
	}
}

func (r recorder) saveOutput(ctx context.Context, runID string, out *Output) {
	if r.st == nil || runID == "" {
		return
	}
	if len(out.Decisions) > 0 {
		if _, err := r.st.SaveDecisions(ctx, runID, out.Decisions); err != nil {
			zap.L().Warn("pipeline: failed to save decisions", zap.String("run_id", runID), zap.Error(err))
		}
	}
	if len(out.RowErrors) > 0 {
		if _, err := r.st.SaveRowErrors(ctx, runID, out.Stage, out.RowErrors); err != nil {
			zap.L().Warn("pipeline: failed to save row errors", zap.String("run_id", runID), zap.Error(err))
		}
	}
}
