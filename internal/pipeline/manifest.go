package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/gigasphere/internal/adjudicate"
	"github.com/sells-group/gigasphere/internal/model"
)

// Manifest describes one completed run. It is written next to the stage
// outputs so a directory of tables can be traced back to its inputs.
type Manifest struct {
	RunID      string                  `yaml:"run_id,omitempty"`
	Command    string                  `yaml:"command"`
	CanonHash  string                  `yaml:"canon_hash"`
	AsOf       string                  `yaml:"as_of,omitempty"`
	Input      string                  `yaml:"input"`
	Status     model.RunStatus         `yaml:"status"`
	StartedAt  time.Time               `yaml:"started_at"`
	FinishedAt time.Time               `yaml:"finished_at"`
	Stages     []model.StageResult     `yaml:"stages"`
	Excluded   int                     `yaml:"excluded_rows"`
	Outcomes   map[string]int          `yaml:"outcomes,omitempty"`
	States     []adjudicate.StateCount `yaml:"states,omitempty"`
}

// Result converts the manifest into the run result stored in history.
func (m *Manifest) Result() *model.RunResult {
	res := &model.RunResult{
		Stages:   m.Stages,
		Outcomes: m.Outcomes,
	}
	if len(m.States) > 0 {
		res.States = StateTotals(m.States)
	}
	return res
}

// WriteManifest encodes m as YAML at path.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal manifest")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create dir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write manifest %s", path)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse manifest %s", path)
	}
	return &m, nil
}
