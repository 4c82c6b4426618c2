// Package canon loads the versioned, declarative ruleset that drives the
// measurement gate, the policy decider and the threshold classifier.
//
// A Canon is built once per process and is never mutated afterwards; every
// accessor returns a copy.
package canon

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultMinFactsToMeasure applies when a dataset omits min_facts_to_measure.
const DefaultMinFactsToMeasure = 1

// DefaultExceptionSurfaceField is the Module One column holding the exception
// surface count.
const DefaultExceptionSurfaceField = "EXCEPTION_SURFACE_fact_count"

// DatasetRule is one Module One dataset declaration.
type DatasetRule struct {
	Name              string `json:"name"`
	MinFactsToMeasure int    `json:"min_facts_to_measure"`
}

// Rules holds the Module Two decision rules.
type Rules struct {
	MaxExceptionSurface   int      `json:"max_exception_surface"`
	RequiredMeasurements  []string `json:"required_measurements"`
	ExceptionSurfaceField string   `json:"exception_surface_field"`
}

// Threshold holds the GREEN and YELLOW cutoffs for one dataset.
type Threshold struct {
	Dataset string  `json:"dataset"`
	Green   float64 `json:"green"`
	Yellow  float64 `json:"yellow"`
}

// DefaultThresholds returns the classifier cutoffs used when no thresholds
// file is present.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Dataset: "STRUCTURAL", Green: 0.70, Yellow: 0.40},
		{Dataset: "COMPLEXITY", Green: 0.60, Yellow: 0.30},
		{Dataset: "STRAIN", Green: 0.65, Yellow: 0.35},
	}
}

// Canon is the immutable ruleset for one execution.
type Canon struct {
	datasets   []DatasetRule
	rules      Rules
	thresholds []Threshold
	hash       string
}

// New validates and copies the given declarations into a Canon. A nil
// thresholds slice selects DefaultThresholds.
func New(datasets []DatasetRule, rules Rules, thresholds []Threshold) (*Canon, error) {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if rules.ExceptionSurfaceField == "" {
		rules.ExceptionSurfaceField = DefaultExceptionSurfaceField
	}

	c := &Canon{
		datasets:   append([]DatasetRule(nil), datasets...),
		rules:      rules,
		thresholds: append([]Threshold(nil), thresholds...),
	}
	c.rules.RequiredMeasurements = append([]string(nil), rules.RequiredMeasurements...)

	if err := c.validate(); err != nil {
		return nil, err
	}
	c.hash = ConfigHash(c.snapshot())
	return c, nil
}

// Datasets returns the Module One datasets in declaration order.
func (c *Canon) Datasets() []DatasetRule {
	return append([]DatasetRule(nil), c.datasets...)
}

// Rules returns the Module Two rules.
func (c *Canon) Rules() Rules {
	r := c.rules
	r.RequiredMeasurements = append([]string(nil), c.rules.RequiredMeasurements...)
	return r
}

// Thresholds returns the classifier cutoffs in declaration order.
func (c *Canon) Thresholds() []Threshold {
	return append([]Threshold(nil), c.thresholds...)
}

// Hash identifies the canon content for run records.
func (c *Canon) Hash() string { return c.hash }

func (c *Canon) validate() error {
	var errs []string

	seen := make(map[string]bool, len(c.datasets))
	for _, d := range c.datasets {
		if strings.TrimSpace(d.Name) == "" {
			errs = append(errs, "dataset name must not be empty")
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("dataset %s declared twice", d.Name))
		}
		seen[d.Name] = true
		if d.MinFactsToMeasure < 0 {
			errs = append(errs, fmt.Sprintf("dataset %s: min_facts_to_measure must be >= 0", d.Name))
		}
	}

	if c.rules.MaxExceptionSurface < 0 {
		errs = append(errs, "max_exception_surface must be >= 0")
	}
	for i, f := range c.rules.RequiredMeasurements {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Sprintf("required_measurements[%d] must not be empty", i))
		}
	}

	tseen := make(map[string]bool, len(c.thresholds))
	for _, t := range c.thresholds {
		if tseen[t.Dataset] {
			errs = append(errs, fmt.Sprintf("threshold %s declared twice", t.Dataset))
		}
		tseen[t.Dataset] = true
		if t.Yellow < 0 || t.Green > 1 {
			errs = append(errs, fmt.Sprintf("threshold %s: cutoffs must be within [0,1]", t.Dataset))
		}
		if t.Yellow > t.Green {
			errs = append(errs, fmt.Sprintf("threshold %s: YELLOW must be <= GREEN", t.Dataset))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("canon: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

type snapshot struct {
	Datasets   []DatasetRule `json:"datasets"`
	Rules      Rules         `json:"rules"`
	Thresholds []Threshold   `json:"thresholds"`
}

func (c *Canon) snapshot() snapshot {
	return snapshot{Datasets: c.datasets, Rules: c.rules, Thresholds: c.thresholds}
}

// ConfigHash returns a SHA-256 hash of a JSON-encodable value for reproducibility.
func ConfigHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}
