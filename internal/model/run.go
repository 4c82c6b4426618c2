package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// StageStatus represents the state of a single stage within a run.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
)

// Stage names.
const (
	StageCoverage  = "coverage"
	StageModuleOne = "module_one"
	StageModuleTwo = "module_two"
	StageClassify  = "classify"
)

// Run records one invocation of a stage command or of the full pipeline.
type Run struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	CanonHash string     `json:"canon_hash"`
	AsOf      string     `json:"as_of,omitempty"`
	Input     string     `json:"input"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunRequest describes a run about to start.
type RunRequest struct {
	Command   string `json:"command"`
	CanonHash string `json:"canon_hash"`
	AsOf      string `json:"as_of,omitempty"`
	Input     string `json:"input"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Stages   []StageResult  `json:"stages"`
	Outcomes map[string]int `json:"outcomes,omitempty"`
	States   map[string]int `json:"states,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RunStage is a stage row in the run history.
type RunStage struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    StageStatus  `json:"status"`
	Result    *StageResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// StageResult summarizes one stage execution.
type StageResult struct {
	Name       string `json:"name" yaml:"name"`
	Input      string `json:"input" yaml:"input"`
	Output     string `json:"output" yaml:"output"`
	RowsIn     int    `json:"rows_in" yaml:"rows_in"`
	RowsOut    int    `json:"rows_out" yaml:"rows_out"`
	Excluded   int    `json:"excluded" yaml:"excluded"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64  `json:"duration_ms" yaml:"-"`
}
