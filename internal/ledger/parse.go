package ledger

import (
	"strconv"
	"strings"

	"github.com/sells-group/gigasphere/internal/coverage"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/tabular"
)

// Ledger column names.
const (
	ColEntityID       = "entity_id"
	ColDataset        = "dataset"
	ColSourceTier     = "source_tier"
	ColSignalStrength = "signal_strength"
	ColDateObserved   = "date_observed"
	ColValid          = "valid"
)

// RequiredColumns lists the columns every ledger must carry.
var RequiredColumns = []string{
	ColEntityID,
	ColDataset,
	ColSourceTier,
	ColSignalStrength,
	ColDateObserved,
	ColValid,
}

// FactColumns lists the columns the measurement gate needs from raw facts.
var FactColumns = []string{ColEntityID, ColDataset}

// ParseObservations converts ledger rows into observations. Rows whose
// dataset, tier, strength, date or validity cannot be interpreted are
// excluded and reported, one RowError per offending field. A missing required
// column is fatal.
func ParseObservations(t *tabular.Table) ([]model.Observation, []model.RowError, error) {
	if err := t.Require(RequiredColumns...); err != nil {
		return nil, nil, err
	}

	var (
		out     []model.Observation
		rowErrs []model.RowError
	)
	for _, rec := range t.Records() {
		o, errs := parseObservation(rec)
		if len(errs) > 0 {
			rowErrs = append(rowErrs, errs...)
			continue
		}
		out = append(out, o)
	}
	return out, rowErrs, nil
}

func parseObservation(rec tabular.Record) (model.Observation, []model.RowError) {
	entity := strings.TrimSpace(rec.Get(ColEntityID))
	o := model.Observation{Row: rec.Num, EntityID: entity}

	var errs []model.RowError
	reject := func(field, reason string) {
		errs = append(errs, model.RowError{
			Row:      rec.Num,
			EntityID: entity,
			Field:    field,
			Value:    rec.Get(field),
			Reason:   reason,
		})
	}

	if entity == "" {
		reject(ColEntityID, "missing entity id")
	}

	o.Dataset = model.Dataset(Upper(rec.Get(ColDataset)))
	if !coverage.KnownDataset(o.Dataset) {
		reject(ColDataset, "unknown dataset")
	}

	if tier, ok := ParseInt(rec.Get(ColSourceTier)); !ok || !coverage.KnownTier(tier) {
		reject(ColSourceTier, "source tier outside 1-4")
	} else {
		o.SourceTier = tier
	}

	o.SignalStrength = model.SignalStrength(Upper(rec.Get(ColSignalStrength)))
	if !coverage.KnownStrength(o.SignalStrength) {
		reject(ColSignalStrength, "unknown signal strength")
	}

	if d, ok := ParseDate(rec.Get(ColDateObserved)); ok {
		o.DateObserved = d
	} else {
		reject(ColDateObserved, "unparseable date")
	}

	if v, ok := ParseBool(rec.Get(ColValid)); ok {
		o.Valid = v
	} else {
		reject(ColValid, "not a boolean")
	}

	return o, errs
}

// ParseFacts extracts the raw fact rows counted by the measurement gate.
// Datasets are trimmed and upper-cased but not checked against any table;
// the gate simply counts what the canon declares. Rows without an entity id
// are reported and skipped.
func ParseFacts(t *tabular.Table) ([]model.FactRow, []model.RowError, error) {
	if err := t.Require(FactColumns...); err != nil {
		return nil, nil, err
	}

	var (
		out     []model.FactRow
		rowErrs []model.RowError
	)
	for _, rec := range t.Records() {
		entity := strings.TrimSpace(rec.Get(ColEntityID))
		if entity == "" {
			rowErrs = append(rowErrs, model.RowError{
				Row:    rec.Num,
				Field:  ColEntityID,
				Reason: "missing entity id",
			})
			continue
		}
		out = append(out, model.FactRow{
			Row:      rec.Num,
			EntityID: entity,
			Dataset:  Upper(rec.Get(ColDataset)),
		})
	}
	return out, rowErrs, nil
}

// ErrorTable renders row errors as the excluded-rows sidecar table.
func ErrorTable(rowErrs []model.RowError) *tabular.Table {
	t := tabular.New("row", "entity_id", "field", "value", "reason")
	for _, e := range rowErrs {
		t.Append(strconv.Itoa(e.Row), e.EntityID, e.Field, e.Value, e.Reason)
	}
	return t
}
