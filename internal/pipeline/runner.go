package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gigasphere/internal/adjudicate"
	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/ledger"
	"github.com/sells-group/gigasphere/internal/measure"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/policy"
	"github.com/sells-group/gigasphere/internal/store"
	"github.com/sells-group/gigasphere/internal/tabular"
)

// AsOfLayout formats as-of dates in run records and manifests.
const AsOfLayout = "2006-01-02"

// Runner executes stages file-to-file against one canon.
type Runner struct {
	canon   *canon.Canon
	rec     recorder
	workers int
	xlsx    bool
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore records every run in st. A nil store disables run history.
func WithStore(st store.Store) Option {
	return func(r *Runner) { r.rec = recorder{st: st} }
}

// WithWorkers bounds the number of entities processed concurrently.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithXLSX additionally writes every stage output as a workbook.
func WithXLSX(enabled bool) Option {
	return func(r *Runner) { r.xlsx = enabled }
}

// NewRunner creates a Runner for the given canon.
func NewRunner(c *canon.Canon, opts ...Option) *Runner {
	r := &Runner{canon: c, workers: 4, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Step is one file-to-file stage execution.
type Step struct {
	Stage  string
	Input  string
	Output string
}

// Request describes a run: one or more steps executed in order.
type Request struct {
	Command string
	Input   string
	AsOf    time.Time
	Steps   []Step
	// Manifest is the manifest path; empty skips it.
	Manifest string
}

// Execute runs every step in order and aborts on the first failure. The run
// and its stages are recorded when a store is configured.
func (r *Runner) Execute(ctx context.Context, req Request) (*Manifest, error) {
	m := &Manifest{
		Command:   req.Command,
		CanonHash: r.canon.Hash(),
		AsOf:      formatAsOf(req.AsOf),
		Input:     req.Input,
		Status:    model.RunStatusRunning,
		StartedAt: r.now().UTC(),
	}
	m.RunID = r.rec.createRun(ctx, model.RunRequest{
		Command:   m.Command,
		CanonHash: m.CanonHash,
		AsOf:      m.AsOf,
		Input:     m.Input,
	})

	log := zap.L().With(zap.String("command", req.Command), zap.String("run_id", m.RunID))
	log.Info("pipeline: run started", zap.Int("steps", len(req.Steps)))

	for _, step := range req.Steps {
		sr, out, err := r.runStep(ctx, m.RunID, step, req.AsOf)
		m.Stages = append(m.Stages, *sr)
		if err != nil {
			m.Status = model.RunStatusFailed
			m.FinishedAt = r.now().UTC()
			res := m.Result()
			res.Error = err.Error()
			r.rec.finishRun(ctx, m.RunID, m.Status, res)
			log.Error("pipeline: run failed", zap.String("stage", step.Stage), zap.Error(err))
			return m, err
		}
		m.Excluded += sr.Excluded
		mergeOutcomes(m, out.Outcomes())
		m.States = append(m.States, out.States()...)
	}

	m.Status = model.RunStatusComplete
	m.FinishedAt = r.now().UTC()
	r.rec.finishRun(ctx, m.RunID, m.Status, m.Result())

	if req.Manifest != "" {
		if err := WriteManifest(req.Manifest, m); err != nil {
			return m, err
		}
	}

	log.Info("pipeline: run complete",
		zap.Int("stages", len(m.Stages)),
		zap.Int("excluded_rows", m.Excluded),
	)
	return m, nil
}

func (r *Runner) runStep(ctx context.Context, runID string, step Step, asOf time.Time) (*model.StageResult, *Output, error) {
	start := time.Now()
	stageID := r.rec.createStage(ctx, runID, step.Stage)
	sr := &model.StageResult{Name: step.Stage, Input: step.Input, Output: step.Output}

	out, err := r.stage(ctx, step, asOf)
	if err == nil {
		err = r.writeOutputs(step.Output, out)
	}
	sr.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		sr.Error = err.Error()
		r.rec.completeStage(ctx, stageID, model.StageStatusFailed, sr)
		return sr, nil, err
	}

	sr.RowsIn = out.RowsIn
	sr.RowsOut = out.Table.Len()
	sr.Excluded = out.Excluded()
	r.rec.completeStage(ctx, stageID, model.StageStatusComplete, sr)
	r.rec.saveOutput(ctx, runID, out)

	logExcluded(step.Stage, out.RowErrors)
	zap.L().Info("pipeline: stage complete",
		zap.String("stage", step.Stage),
		zap.String("output", step.Output),
		zap.Int("rows_in", sr.RowsIn),
		zap.Int("rows_out", sr.RowsOut),
		zap.Int("excluded", sr.Excluded),
	)
	return sr, out, nil
}

// stage reads the step input fully and computes the stage in memory. Nothing
// is written when it fails.
func (r *Runner) stage(ctx context.Context, step Step, asOf time.Time) (*Output, error) {
	in, err := tabular.ReadFile(ctx, step.Input)
	if err != nil {
		return nil, err
	}

	switch step.Stage {
	case model.StageCoverage:
		if asOf.IsZero() {
			return nil, eris.New("pipeline: coverage requires an as-of date")
		}
		return Coverage(ctx, r.workers, in, asOf)
	case model.StageModuleOne:
		return ModuleOne(ctx, r.canon, r.workers, in)
	case model.StageModuleTwo:
		return ModuleTwo(ctx, r.canon, r.workers, in)
	case model.StageClassify:
		return Classify(ctx, r.canon, r.workers, in)
	default:
		return nil, eris.Errorf("pipeline: unknown stage %q", step.Stage)
	}
}

func (r *Runner) writeOutputs(path string, out *Output) error {
	if err := tabular.WriteFile(path, out.Table); err != nil {
		return err
	}
	if out.Stage == model.StageCoverage || out.Stage == model.StageModuleOne || out.Stage == model.StageModuleTwo {
		if err := tabular.WriteFile(ExcludedPath(path), ledger.ErrorTable(out.RowErrors)); err != nil {
			return err
		}
	}
	if r.xlsx {
		if err := tabular.WriteXLSX(withExt(path, ".xlsx"), out.Stage, out.Table); err != nil {
			return err
		}
	}
	return nil
}

// ExcludedPath returns the excluded-rows sidecar path for a stage output.
func ExcludedPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + "_excluded_rows.csv"
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func logExcluded(stage string, rowErrs []model.RowError) {
	if len(rowErrs) == 0 {
		return
	}
	zap.L().Warn("pipeline: rows excluded", zap.String("stage", stage), zap.Int("errors", len(rowErrs)))
	for _, e := range rowErrs {
		zap.L().Debug("pipeline: excluded row",
			zap.String("stage", stage),
			zap.Int("row", e.Row),
			zap.String("entity_id", e.EntityID),
			zap.String("field", e.Field),
			zap.String("reason", e.Reason),
		)
	}
}

func mergeOutcomes(m *Manifest, outcomes map[string]int) {
	if len(outcomes) == 0 {
		return
	}
	if m.Outcomes == nil {
		m.Outcomes = make(map[string]int, len(outcomes))
	}
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Outcomes[k] += outcomes[k]
		zap.L().Info("pipeline: outcome", zap.String("outcome", k), zap.Int("entities", outcomes[k]))
	}
}

func formatAsOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(AsOfLayout)
}

// Preflight checks that the input exists and is a regular file.
func Preflight(input string) error {
	info, err := os.Stat(input)
	if err != nil {
		return eris.Wrapf(err, "pipeline: preflight %s", input)
	}
	if info.IsDir() {
		return eris.Errorf("pipeline: preflight %s: is a directory", input)
	}
	return nil
}

// Output file names of the full pipeline.
const (
	ModuleOneOutput = "module_one_v2_output.csv"
	ModuleTwoOutput = "module_two_output.csv"
	CoverageOutput  = "coverage_output.csv"
	ClassifyOutput  = "module_one_state_output.csv"
	ManifestFile    = "manifest.yaml"
)

// PipelineOptions configures a full pipeline run.
type PipelineOptions struct {
	Input     string
	OutputDir string
	// AsOf adds the coverage and classify stages when set.
	AsOf time.Time
}

// PipelineSteps returns the steps of a full pipeline run: Module One then
// Module Two, followed by coverage and classification when withCoverage is
// set.
func PipelineSteps(input, outputDir string, withCoverage bool) []Step {
	join := func(name string) string { return filepath.Join(outputDir, name) }
	steps := []Step{
		{Stage: model.StageModuleOne, Input: input, Output: join(ModuleOneOutput)},
		{Stage: model.StageModuleTwo, Input: join(ModuleOneOutput), Output: join(ModuleTwoOutput)},
	}
	if withCoverage {
		steps = append(steps,
			Step{Stage: model.StageCoverage, Input: input, Output: join(CoverageOutput)},
			Step{Stage: model.StageClassify, Input: join(CoverageOutput), Output: join(ClassifyOutput)},
		)
	}
	return steps
}

// checkPipeline reads the input once and fails before any step runs when the
// input lacks a column a planned stage needs, or when Module Two would read a
// measurement Module One never emits.
func (r *Runner) checkPipeline(ctx context.Context, input string, withCoverage bool) error {
	in, err := tabular.ReadFile(ctx, input)
	if err != nil {
		return eris.Wrapf(err, "pipeline: preflight %s", input)
	}
	cols := ledger.FactColumns
	if withCoverage {
		cols = ledger.RequiredColumns
	}
	if err := in.Require(cols...); err != nil {
		return eris.Wrapf(err, "pipeline: preflight %s", input)
	}

	emitted := tabular.New(measure.Header(r.canon.Datasets())...)
	if err := emitted.Require(policy.RequiredColumns(r.canon.Rules())...); err != nil {
		return eris.Wrap(err, "pipeline: preflight canon: module two reads columns module one does not write")
	}
	return nil
}

// Pipeline runs the full pipeline after a preflight check of the input and
// canon. Nothing is written when the preflight fails.
func (r *Runner) Pipeline(ctx context.Context, opts PipelineOptions) (*Manifest, error) {
	if err := Preflight(opts.Input); err != nil {
		return nil, err
	}
	if err := r.checkPipeline(ctx, opts.Input, !opts.AsOf.IsZero()); err != nil {
		return nil, err
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	return r.Execute(ctx, Request{
		Command:  "pipeline",
		Input:    opts.Input,
		AsOf:     opts.AsOf,
		Steps:    PipelineSteps(opts.Input, dir, !opts.AsOf.IsZero()),
		Manifest: filepath.Join(dir, ManifestFile),
	})
}

// StateTotals flattens state counts into dataset/state keys.
func StateTotals(states []adjudicate.StateCount) map[string]int {
	out := make(map[string]int, len(states))
	for _, s := range states {
		out[s.Dataset+"/"+string(s.State)] += s.Rows
	}
	return out
}
