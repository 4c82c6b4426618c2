// Package store persists the run history: one run per stage command or full
// pipeline invocation, its stages, the decisions it produced and the rows it
// excluded.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/gigasphere/internal/model"
)

// ErrNotFound is returned when a run or stage does not exist.
var ErrNotFound = errors.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Command      string          `json:"command,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// RowErrorRecord is an excluded input row attributed to a run stage.
type RowErrorRecord struct {
	Stage string `json:"stage"`
	model.RowError
}

// Store defines the persistence interface for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, req model.RunRequest) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Stages
	CreateStage(ctx context.Context, runID string, name string) (*model.RunStage, error)
	CompleteStage(ctx context.Context, stageID string, status model.StageStatus, result *model.StageResult) error
	ListStages(ctx context.Context, runID string) ([]model.RunStage, error)

	// Snapshots
	SaveDecisions(ctx context.Context, runID string, decisions []model.Decision) (int64, error)
	ListDecisions(ctx context.Context, runID string) ([]model.Decision, error)
	SaveRowErrors(ctx context.Context, runID, stage string, rowErrs []model.RowError) (int64, error)
	ListRowErrors(ctx context.Context, runID string) ([]RowErrorRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// finalStatus derives the run status recorded alongside a result.
func finalStatus(result *model.RunResult) model.RunStatus {
	if result != nil && result.Error != "" {
		return model.RunStatusFailed
	}
	return model.RunStatusComplete
}

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
