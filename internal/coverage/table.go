package coverage

import (
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/tabular"
)

// Header returns the coverage table columns.
func Header() []string {
	return []string{"entity_id", "dataset", "known_pct", "unknown_pct", "raw_weight", "required_weight"}
}

// Table renders coverage results in the order given.
func Table(results []model.CoverageResult) *tabular.Table {
	t := tabular.New(Header()...)
	for _, r := range results {
		t.Append(
			r.EntityID,
			string(r.Dataset),
			tabular.FormatFloat(r.KnownPct),
			tabular.FormatFloat(r.UnknownPct),
			tabular.FormatFloat(r.RawWeight),
			tabular.FormatFloat(r.RequiredWeight),
		)
	}
	return t
}
