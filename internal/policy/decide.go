// Package policy implements the Module Two decider: every entity row receives
// exactly one terminal outcome, chosen by a fixed rule precedence.
package policy

import (
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/ledger"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/tabular"
)

// Output columns appended to the measurement table.
const (
	ColOutcome = "module_two_outcome"
	ColReason  = "module_two_reason"
)

// Row is a single entity row addressed by column name.
type Row interface {
	Get(col string) string
}

// RequiredColumns lists the input columns the rules read.
func RequiredColumns(rules canon.Rules) []string {
	cols := []string{ledger.ColEntityID, exceptionField(rules)}
	return append(cols, rules.RequiredMeasurements...)
}

func exceptionField(rules canon.Rules) string {
	if rules.ExceptionSurfaceField == "" {
		return canon.DefaultExceptionSurfaceField
	}
	return rules.ExceptionSurfaceField
}

// ExceptionSurface parses the exception surface count of a row. A blank cell
// counts as zero.
func ExceptionSurface(rules canon.Rules, row Row) (float64, bool) {
	s := strings.TrimSpace(row.Get(exceptionField(rules)))
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Decide evaluates the rules for one row given its exception surface count:
// BLOCK when the count exceeds the ceiling, else HOLD on the first required
// measurement that is not set, else AUTH.
func Decide(rules canon.Rules, entityID string, exceptionSurface float64, row Row) model.Decision {
	if exceptionSurface > float64(rules.MaxExceptionSurface) {
		return model.Decision{
			EntityID: entityID,
			Outcome:  model.OutcomeBlock,
			Reason:   model.ReasonExceptionSurfaceExceeded,
		}
	}

	for _, field := range rules.RequiredMeasurements {
		if !ledger.Truthy(row.Get(field)) {
			return model.Decision{
				EntityID: entityID,
				Outcome:  model.OutcomeHold,
				Reason:   field + model.ReasonUnmeasuredSuffix,
			}
		}
	}

	return model.Decision{
		EntityID: entityID,
		Outcome:  model.OutcomeAuth,
		Reason:   model.ReasonMeasurementsSufficient,
	}
}

// DecideRow parses the exception surface of row and decides it. An
// unparseable count is returned as a row error and no decision is made.
func DecideRow(rules canon.Rules, num int, row Row) (model.Decision, *model.RowError) {
	entity := strings.TrimSpace(row.Get(ledger.ColEntityID))
	surface, ok := ExceptionSurface(rules, row)
	if !ok {
		field := exceptionField(rules)
		return model.Decision{}, &model.RowError{
			Row:      num,
			EntityID: entity,
			Field:    field,
			Value:    row.Get(field),
			Reason:   "exception surface count is not numeric",
		}
	}
	return Decide(rules, entity, surface, row), nil
}

// Header returns the decision table columns: every input column followed by
// the outcome and reason.
func Header(input []string) []string {
	h := make([]string, 0, len(input)+2)
	h = append(h, input...)
	return append(h, ColOutcome, ColReason)
}

// AppendDecision adds an input row extended with its decision to out.
func AppendDecision(out *tabular.Table, width int, values []string, d model.Decision) {
	row := make([]string, width, width+2)
	copy(row, values)
	out.Append(append(row, string(d.Outcome), d.Reason)...)
}

// Summary counts decisions per outcome.
func Summary(decisions []model.Decision) map[string]int {
	out := make(map[string]int)
	for _, d := range decisions {
		out[string(d.Outcome)]++
	}
	return out
}
