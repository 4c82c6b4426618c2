// Package pipeline runs the scoring and adjudication stages. Each stage is a
// pure table-to-table transform; the runner wraps them as file-to-file steps
// and records every execution in the run store.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gigasphere/internal/adjudicate"
	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/coverage"
	"github.com/sells-group/gigasphere/internal/ledger"
	"github.com/sells-group/gigasphere/internal/measure"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/policy"
	"github.com/sells-group/gigasphere/internal/tabular"
)

// Output is the in-memory result of one stage.
type Output struct {
	Stage     string
	Table     *tabular.Table
	RowsIn    int
	RowErrors []model.RowError

	Coverage        []model.CoverageResult
	Measurements    []model.MeasurementRecord
	Decisions       []model.Decision
	Classifications []model.Classification
}

// Excluded returns the number of distinct input rows that were excluded.
func (o *Output) Excluded() int {
	seen := make(map[int]bool, len(o.RowErrors))
	for _, e := range o.RowErrors {
		seen[e.Row] = true
	}
	return len(seen)
}

// Outcomes counts decisions per outcome. It is nil for stages other than
// Module Two.
func (o *Output) Outcomes() map[string]int {
	if o.Stage != model.StageModuleTwo {
		return nil
	}
	return policy.Summary(o.Decisions)
}

// States counts classifications per dataset and state.
func (o *Output) States() []adjudicate.StateCount {
	if o.Stage != model.StageClassify {
		return nil
	}
	return adjudicate.Summary(o.Classifications)
}

// Coverage scores a ledger table as of the given date. Rows that cannot be
// interpreted are excluded and reported; entities are sharded across
// workers.
func Coverage(ctx context.Context, workers int, in *tabular.Table, asOf time.Time) (*Output, error) {
	obs, rowErrs, err := ledger.ParseObservations(in)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: coverage")
	}

	parts, err := Map(ctx, workers, coverage.GroupByEntity(obs),
		func(_ context.Context, g coverage.EntityObservations) ([]model.CoverageResult, error) {
			return coverage.ComputeEntity(g.EntityID, g.Observations, asOf)
		})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: coverage")
	}

	var results []model.CoverageResult
	for _, p := range parts {
		results = append(results, p...)
	}
	return &Output{
		Stage:     model.StageCoverage,
		Table:     coverage.Table(results),
		RowsIn:    in.Len(),
		RowErrors: rowErrs,
		Coverage:  results,
	}, nil
}

// ModuleOne counts raw facts per entity against the canon datasets.
func ModuleOne(ctx context.Context, c *canon.Canon, workers int, in *tabular.Table) (*Output, error) {
	facts, rowErrs, err := ledger.ParseFacts(in)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: module one")
	}

	datasets := c.Datasets()
	records, err := Map(ctx, workers, measure.GroupByEntity(facts),
		func(_ context.Context, g measure.EntityFacts) (model.MeasurementRecord, error) {
			return measure.Measure(datasets, g.EntityID, g.Facts), nil
		})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: module one")
	}

	return &Output{
		Stage:        model.StageModuleOne,
		Table:        measure.Table(datasets, records),
		RowsIn:       in.Len(),
		RowErrors:    rowErrs,
		Measurements: records,
	}, nil
}

type decided struct {
	decision model.Decision
	rowErr   *model.RowError
}

// ModuleTwo decides every row of a Module One table. The output keeps all
// input columns and appends the outcome and reason.
func ModuleTwo(ctx context.Context, c *canon.Canon, workers int, in *tabular.Table) (*Output, error) {
	rules := c.Rules()
	if err := in.Require(policy.RequiredColumns(rules)...); err != nil {
		return nil, eris.Wrap(err, "pipeline: module two")
	}

	rows, err := Map(ctx, workers, in.Records(), func(_ context.Context, rec tabular.Record) (decided, error) {
		d, rowErr := policy.DecideRow(rules, rec.Num, rec)
		return decided{decision: d, rowErr: rowErr}, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: module two")
	}

	out := &Output{
		Stage:  model.StageModuleTwo,
		Table:  tabular.New(policy.Header(in.Header)...),
		RowsIn: in.Len(),
	}
	for i, r := range rows {
		if r.rowErr != nil {
			out.RowErrors = append(out.RowErrors, *r.rowErr)
			continue
		}
		policy.AppendDecision(out.Table, len(in.Header), in.Rows[i], r.decision)
		out.Decisions = append(out.Decisions, r.decision)
	}
	return out, nil
}

// Classify maps each coverage row to its threshold state. Out-of-domain rows
// carry an error state instead of failing the batch.
func Classify(ctx context.Context, c *canon.Canon, workers int, in *tabular.Table) (*Output, error) {
	if err := in.Require(adjudicate.RequiredColumns...); err != nil {
		return nil, eris.Wrap(err, "pipeline: classify")
	}

	classifier := adjudicate.New(c.Thresholds())
	rows, err := Map(ctx, workers, in.Records(), func(_ context.Context, rec tabular.Record) (model.Classification, error) {
		return classifier.Row(rec), nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classify")
	}

	return &Output{
		Stage:           model.StageClassify,
		Table:           adjudicate.Table(rows),
		RowsIn:          in.Len(),
		Classifications: rows,
	}, nil
}
