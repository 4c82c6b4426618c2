package coverage

import (
	"math"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gigasphere/internal/model"
)

// Weight is the contribution of a single observation to its dataset as of
// asOf. Stale observations (freshness 0) contribute exactly 0 and skip the
// tier and strength lookups.
func Weight(o model.Observation, asOf time.Time) (float64, error) {
	freshness := Freshness(MonthsOld(asOf, o.DateObserved))
	if freshness == 0 {
		return 0, nil
	}

	tier, err := TierWeight(o.SourceTier)
	if err != nil {
		return 0, eris.Wrapf(err, "coverage: row %d", o.Row)
	}
	strength, err := StrengthMultiplier(o.SignalStrength)
	if err != nil {
		return 0, eris.Wrapf(err, "coverage: row %d", o.Row)
	}
	return tier * strength * freshness, nil
}

// Compute folds the observations of one entity into the coverage of one
// dataset. Observations for other datasets or marked invalid are ignored.
func Compute(entityID string, dataset model.Dataset, obs []model.Observation, asOf time.Time) (model.CoverageResult, error) {
	required, err := RequiredWeight(dataset)
	if err != nil {
		return model.CoverageResult{}, err
	}

	var raw float64
	for _, o := range obs {
		if o.Dataset != dataset || !o.Valid {
			continue
		}
		w, err := Weight(o, asOf)
		if err != nil {
			return model.CoverageResult{}, err
		}
		raw += w
	}

	known := math.Min(1.0, raw/required)
	return model.CoverageResult{
		EntityID:       entityID,
		Dataset:        dataset,
		KnownPct:       Round3(known),
		UnknownPct:     Round3(1.0 - known),
		RawWeight:      Round3(raw),
		RequiredWeight: required,
	}, nil
}

// ComputeEntity returns one result per scored dataset, in output order.
func ComputeEntity(entityID string, obs []model.Observation, asOf time.Time) ([]model.CoverageResult, error) {
	out := make([]model.CoverageResult, 0, len(requirements))
	for _, r := range requirements {
		res, err := Compute(entityID, r.dataset, obs, asOf)
		if err != nil {
			return nil, eris.Wrapf(err, "coverage: entity %s", entityID)
		}
		out = append(out, res)
	}
	return out, nil
}

// EntityObservations is the ledger slice belonging to one entity.
type EntityObservations struct {
	EntityID     string
	Observations []model.Observation
}

// GroupByEntity groups observations by entity in order of first appearance.
func GroupByEntity(obs []model.Observation) []EntityObservations {
	pos := make(map[string]int)
	var out []EntityObservations
	for _, o := range obs {
		i, ok := pos[o.EntityID]
		if !ok {
			i = len(out)
			pos[o.EntityID] = i
			out = append(out, EntityObservations{EntityID: o.EntityID})
		}
		out[i].Observations = append(out[i].Observations, o)
	}
	return out
}

// Aggregate computes coverage for every entity sequentially. Callers that
// shard across workers use GroupByEntity and ComputeEntity directly.
func Aggregate(obs []model.Observation, asOf time.Time) ([]model.CoverageResult, error) {
	var out []model.CoverageResult
	for _, g := range GroupByEntity(obs) {
		res, err := ComputeEntity(g.EntityID, g.Observations, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

// Round3 rounds v to three decimal places from its exact binary value:
// 0.0525, stored just below, becomes 0.052.
func Round3(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	if err != nil {
		return v
	}
	return r
}
