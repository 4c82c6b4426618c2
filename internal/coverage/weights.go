// Package coverage computes evidence coverage ratios from ledger observations.
//
// Every weighting factor is a static, pre-declared table. An observation that
// is invalid, stale or for another dataset contributes nothing; nothing is
// ever inferred for missing evidence.
package coverage

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gigasphere/internal/model"
)

var (
	// ErrUnknownTier is returned for a source tier outside the tier table.
	ErrUnknownTier = errors.New("unknown source tier")
	// ErrUnknownStrength is returned for a signal strength outside the multiplier table.
	ErrUnknownStrength = errors.New("unknown signal strength")
	// ErrUnknownDataset is returned for a dataset without a required weight.
	ErrUnknownDataset = errors.New("unknown dataset")
)

var tierWeights = map[int]float64{
	1: 1.00,
	2: 0.75,
	3: 0.50,
	4: 0.25,
}

var strengthMultipliers = map[model.SignalStrength]float64{
	model.SignalStrong: 1.00,
	model.SignalWeak:   0.60,
}

type requirement struct {
	dataset model.Dataset
	weight  float64
}

// Output order of datasets in the coverage table.
var requirements = []requirement{
	{model.DatasetStructural, 2.50},
	{model.DatasetComplexity, 2.00},
	{model.DatasetStrain, 1.75},
}

// TierWeight returns the weight of a source tier.
func TierWeight(tier int) (float64, error) {
	w, ok := tierWeights[tier]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownTier, "coverage: tier %d", tier)
	}
	return w, nil
}

// StrengthMultiplier returns the multiplier of a signal strength.
func StrengthMultiplier(s model.SignalStrength) (float64, error) {
	m, ok := strengthMultipliers[s]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownStrength, "coverage: strength %q", string(s))
	}
	return m, nil
}

// RequiredWeight returns the evidence weight that yields full coverage.
func RequiredWeight(d model.Dataset) (float64, error) {
	for _, r := range requirements {
		if r.dataset == d {
			return r.weight, nil
		}
	}
	return 0, eris.Wrapf(ErrUnknownDataset, "coverage: dataset %q", string(d))
}

// Datasets lists the scored datasets in output order.
func Datasets() []model.Dataset {
	out := make([]model.Dataset, len(requirements))
	for i, r := range requirements {
		out[i] = r.dataset
	}
	return out
}

// KnownTier reports whether tier has a weight.
func KnownTier(tier int) bool {
	_, ok := tierWeights[tier]
	return ok
}

// KnownStrength reports whether s has a multiplier.
func KnownStrength(s model.SignalStrength) bool {
	_, ok := strengthMultipliers[s]
	return ok
}

// KnownDataset reports whether d has a required weight.
func KnownDataset(d model.Dataset) bool {
	_, err := RequiredWeight(d)
	return err == nil
}

// MonthsOld is the observation age in whole 30-day months, floored. Dates in
// the future yield negative ages.
func MonthsOld(asOf, observed time.Time) int {
	days := daysBetween(asOf, observed)
	months := days / 30
	if days%30 != 0 && days < 0 {
		months--
	}
	return months
}

func daysBetween(asOf, observed time.Time) int {
	a := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	o := time.Date(observed.Year(), observed.Month(), observed.Day(), 0, 0, 0, 0, time.UTC)
	return int(a.Sub(o).Hours() / 24)
}

// Freshness is the decay multiplier for an observation age in months.
func Freshness(monthsOld int) float64 {
	switch {
	case monthsOld < 12:
		return 1.00
	case monthsOld < 24:
		return 0.70
	case monthsOld < 36:
		return 0.40
	default:
		return 0.00
	}
}
