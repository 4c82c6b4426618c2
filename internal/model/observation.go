// Package model holds the domain types shared by the scoring and adjudication stages.
package model

import "time"

// Dataset names an evidence dataset.
type Dataset string

const (
	DatasetStructural Dataset = "STRUCTURAL"
	DatasetComplexity Dataset = "COMPLEXITY"
	DatasetStrain     Dataset = "STRAIN"
)

// SignalStrength grades how directly an observation supports its dataset.
type SignalStrength string

const (
	SignalStrong SignalStrength = "STRONG"
	SignalWeak   SignalStrength = "WEAK"
)

// Observation is one ledger row. Rows are immutable once ingested.
type Observation struct {
	Row            int            `json:"row"`
	EntityID       string         `json:"entity_id"`
	Dataset        Dataset        `json:"dataset"`
	SourceTier     int            `json:"source_tier"`
	SignalStrength SignalStrength `json:"signal_strength"`
	DateObserved   time.Time      `json:"date_observed"`
	Valid          bool           `json:"valid"`
}

// FactRow is a raw fact counted by the measurement gate. Only the entity and
// dataset matter there; validity and age are ignored.
type FactRow struct {
	Row      int    `json:"row"`
	EntityID string `json:"entity_id"`
	Dataset  string `json:"dataset"`
}

// RowError describes an input row that was excluded from a stage.
type RowError struct {
	Row      int    `json:"row" yaml:"row"`
	EntityID string `json:"entity_id" yaml:"entity_id"`
	Field    string `json:"field" yaml:"field"`
	Value    string `json:"value" yaml:"value"`
	Reason   string `json:"reason" yaml:"reason"`
}
