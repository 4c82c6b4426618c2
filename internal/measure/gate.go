// Package measure implements the measurement gate: per entity and per canon
// dataset, count raw fact rows and flag the dataset as measured once the count
// reaches the canon minimum.
package measure

import (
	"strconv"

	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/ledger"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/tabular"
)

// EntityFacts is the raw fact slice belonging to one entity.
type EntityFacts struct {
	EntityID string
	Facts    []model.FactRow
}

// GroupByEntity groups fact rows by entity in order of first appearance.
func GroupByEntity(facts []model.FactRow) []EntityFacts {
	pos := make(map[string]int)
	var out []EntityFacts
	for _, f := range facts {
		i, ok := pos[f.EntityID]
		if !ok {
			i = len(out)
			pos[f.EntityID] = i
			out = append(out, EntityFacts{EntityID: f.EntityID})
		}
		out[i].Facts = append(out[i].Facts, f)
	}
	return out
}

// Measure counts one entity's facts against every declared dataset. Every
// dataset appears in the record, with a zero count when no fact matches.
// Dataset names compare case-insensitively; validity and age are ignored.
func Measure(datasets []canon.DatasetRule, entityID string, facts []model.FactRow) model.MeasurementRecord {
	counts := make(map[string]int, len(datasets))
	for _, f := range facts {
		counts[ledger.Upper(f.Dataset)]++
	}

	rec := model.MeasurementRecord{
		EntityID:     entityID,
		Measurements: make([]model.DatasetMeasurement, len(datasets)),
	}
	for i, d := range datasets {
		n := counts[ledger.Upper(d.Name)]
		rec.Measurements[i] = model.DatasetMeasurement{
			Dataset:   d.Name,
			FactCount: n,
			Measured:  n >= d.MinFactsToMeasure,
		}
	}
	return rec
}

// Gate measures every entity sequentially, in order of first appearance.
func Gate(datasets []canon.DatasetRule, facts []model.FactRow) []model.MeasurementRecord {
	groups := GroupByEntity(facts)
	out := make([]model.MeasurementRecord, len(groups))
	for i, g := range groups {
		out[i] = Measure(datasets, g.EntityID, g.Facts)
	}
	return out
}

// Header returns the measurement table columns for the declared datasets.
func Header(datasets []canon.DatasetRule) []string {
	h := []string{ledger.ColEntityID}
	for _, d := range datasets {
		m := model.DatasetMeasurement{Dataset: d.Name}
		h = append(h, m.MeasuredField(), m.CountField())
	}
	return h
}

// Table renders measurement records as the Module One output table.
func Table(datasets []canon.DatasetRule, records []model.MeasurementRecord) *tabular.Table {
	t := tabular.New(Header(datasets)...)
	for _, r := range records {
		row := make([]string, 0, 1+2*len(r.Measurements))
		row = append(row, r.EntityID)
		for _, m := range r.Measurements {
			row = append(row, tabular.FormatBool(m.Measured), strconv.Itoa(m.FactCount))
		}
		t.Append(row...)
	}
	return t
}
