// Package adjudicate maps a single coverage ratio to a GREEN, YELLOW or RED
// state using the canon's per-dataset cutoffs. Out-of-domain input yields a
// sentinel error state instead of failing the batch.
package adjudicate

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/ledger"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/tabular"
)

// Columns of the classification input and output tables.
const (
	ColKnownPct = "known_pct"
	ColState    = "module_one_state"
)

// RequiredColumns lists the classifier input columns.
var RequiredColumns = []string{ledger.ColEntityID, ledger.ColDataset, ColKnownPct}

// Classifier holds the cutoffs keyed by normalized dataset name.
type Classifier struct {
	thresholds map[string]canon.Threshold
}

// New builds a classifier from canon thresholds.
func New(thresholds []canon.Threshold) *Classifier {
	c := &Classifier{thresholds: make(map[string]canon.Threshold, len(thresholds))}
	for _, t := range thresholds {
		c.thresholds[ledger.Upper(t.Dataset)] = t
	}
	return c
}

// ClassifyValue classifies a numeric ratio. Ratios outside [0, 1] or not
// finite are ERROR_BAD_KNOWN_PCT.
func (c *Classifier) ClassifyValue(dataset string, knownPct float64) model.ThresholdState {
	t, ok := c.thresholds[ledger.Upper(dataset)]
	if !ok {
		return model.StateErrorUnknownDataset
	}
	if math.IsNaN(knownPct) || knownPct < 0 || knownPct > 1 {
		return model.StateErrorBadKnownPct
	}
	switch {
	case knownPct >= t.Green:
		return model.StateGreen
	case knownPct >= t.Yellow:
		return model.StateYellow
	default:
		return model.StateRed
	}
}

// Classify classifies a ratio read from a table cell. The dataset is checked
// before the ratio.
func (c *Classifier) Classify(dataset, knownPct string) model.ThresholdState {
	if _, ok := c.thresholds[ledger.Upper(dataset)]; !ok {
		return model.StateErrorUnknownDataset
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(knownPct), 64)
	if err != nil {
		return model.StateErrorBadKnownPct
	}
	return c.ClassifyValue(dataset, v)
}

// Row classifies one input record. The dataset is trimmed and upper-cased;
// known_pct is carried through verbatim.
func (c *Classifier) Row(rec tabular.Record) model.Classification {
	ds := ledger.Upper(rec.Get(ledger.ColDataset))
	pct := rec.Get(ColKnownPct)
	return model.Classification{
		EntityID: rec.Get(ledger.ColEntityID),
		Dataset:  ds,
		KnownPct: pct,
		State:    c.Classify(ds, pct),
	}
}

// Header returns the classification table columns.
func Header() []string {
	return []string{ledger.ColEntityID, ledger.ColDataset, ColKnownPct, ColState}
}

// Table renders classifications in input order.
func Table(rows []model.Classification) *tabular.Table {
	t := tabular.New(Header()...)
	for _, r := range rows {
		t.Append(r.EntityID, r.Dataset, r.KnownPct, string(r.State))
	}
	return t
}

// StateCount is the number of rows with a given dataset and state.
type StateCount struct {
	Dataset string               `json:"dataset" yaml:"dataset"`
	State   model.ThresholdState `json:"module_one_state" yaml:"module_one_state"`
	Rows    int                  `json:"rows" yaml:"rows"`
}

// Summary counts rows per (dataset, state), sorted by dataset then state.
func Summary(rows []model.Classification) []StateCount {
	type key struct {
		dataset string
		state   model.ThresholdState
	}
	counts := make(map[key]int)
	for _, r := range rows {
		counts[key{r.Dataset, r.State}]++
	}

	out := make([]StateCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, StateCount{Dataset: k.dataset, State: k.state, Rows: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dataset != out[j].Dataset {
			return out[i].Dataset < out[j].Dataset
		}
		return out[i].State < out[j].State
	})
	return out
}
