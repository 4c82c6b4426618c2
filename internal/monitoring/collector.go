// Package monitoring summarizes the run history for operators.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run history.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	ByCommand map[string]int `json:"by_command"`

	// Totals over completed runs.
	RowsIn        int            `json:"rows_in"`
	RowsExcluded  int            `json:"rows_excluded"`
	Outcomes      map[string]int `json:"outcomes"`
	States        map[string]int `json:"states"`
	AvgDurationMs int64          `json:"avg_duration_ms"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store subset the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window. A window of zero
// or less covers the whole history.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ByCommand:     make(map[string]int),
		Outcomes:      make(map[string]int),
		States:        make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	filter := store.RunFilter{Limit: 10000}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	runs, err := c.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalDuration int64
	snap.RunsTotal = len(runs)
	for _, r := range runs {
		snap.ByCommand[r.Command]++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}

		if r.Result == nil || r.Status != model.RunStatusComplete {
			continue
		}
		for _, st := range r.Result.Stages {
			snap.RowsIn += st.RowsIn
			snap.RowsExcluded += st.Excluded
			totalDuration += st.DurationMs
		}
		for k, v := range r.Result.Outcomes {
			snap.Outcomes[k] += v
		}
		for k, v := range r.Result.States {
			snap.States[k] += v
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		snap.AvgDurationMs = totalDuration / int64(snap.RunsComplete)
	}
	return snap, nil
}
