package model

// CoverageResult is the evidence coverage of one dataset for one entity.
// KnownPct + UnknownPct == 1.
type CoverageResult struct {
	EntityID       string  `json:"entity_id"`
	Dataset        Dataset `json:"dataset"`
	KnownPct       float64 `json:"known_pct"`
	UnknownPct     float64 `json:"unknown_pct"`
	RawWeight      float64 `json:"raw_weight"`
	RequiredWeight float64 `json:"required_weight"`
}

// DatasetMeasurement is the measurement flag and fact count for one dataset.
type DatasetMeasurement struct {
	Dataset   string `json:"dataset"`
	FactCount int    `json:"fact_count"`
	Measured  bool   `json:"measured"`
}

// MeasuredField returns the output column name of the measured flag.
func (m DatasetMeasurement) MeasuredField() string { return m.Dataset + "_measured" }

// CountField returns the output column name of the fact count.
func (m DatasetMeasurement) CountField() string { return m.Dataset + "_fact_count" }

// MeasurementRecord holds one entity's measurements, one per canon dataset in
// canon declaration order.
type MeasurementRecord struct {
	EntityID     string               `json:"entity_id"`
	Measurements []DatasetMeasurement `json:"measurements"`
}

// Outcome is the terminal Module Two state of an entity.
type Outcome string

const (
	OutcomeAuth  Outcome = "AUTH"
	OutcomeHold  Outcome = "HOLD"
	OutcomeBlock Outcome = "BLOCK"
)

// Decision reason codes. HOLD reasons are built from the failing field name.
const (
	ReasonExceptionSurfaceExceeded = "EXCEPTION_SURFACE_EXCEEDED"
	ReasonMeasurementsSufficient   = "MEASUREMENTS_SUFFICIENT"
	ReasonUnmeasuredSuffix         = "_UNMEASURED"
)

// Decision is the Module Two verdict for one entity.
type Decision struct {
	EntityID string  `json:"entity_id"`
	Outcome  Outcome `json:"module_two_outcome"`
	Reason   string  `json:"module_two_reason"`
}

// ThresholdState is the coverage classification of a single dataset.
type ThresholdState string

const (
	StateGreen               ThresholdState = "GREEN"
	StateYellow              ThresholdState = "YELLOW"
	StateRed                 ThresholdState = "RED"
	StateErrorUnknownDataset ThresholdState = "ERROR_UNKNOWN_DATASET"
	StateErrorBadKnownPct    ThresholdState = "ERROR_BAD_KNOWN_PCT"
)

// IsError reports whether s is one of the sentinel error states.
func (s ThresholdState) IsError() bool {
	return s == StateErrorUnknownDataset || s == StateErrorBadKnownPct
}

// Classification is one row of the threshold classification table.
type Classification struct {
	EntityID string         `json:"entity_id"`
	Dataset  string         `json:"dataset"`
	KnownPct string         `json:"known_pct"`
	State    ThresholdState `json:"module_one_state"`
}
