package canon

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// ErrCanonNotFound is returned when a required canon file does not exist.
var ErrCanonNotFound = errors.New("canon not found")

// Part selects which canon files a command needs.
type Part uint8

const (
	PartExecution Part = 1 << iota
	PartLogic
	PartThresholds

	PartAll = PartExecution | PartLogic | PartThresholds
)

// Paths locates the canon files. Relative file names resolve against Dir.
type Paths struct {
	Dir            string `yaml:"dir" mapstructure:"dir"`
	ExecutionFile  string `yaml:"execution_file" mapstructure:"execution_file"`
	LogicFile      string `yaml:"logic_file" mapstructure:"logic_file"`
	ThresholdsFile string `yaml:"thresholds_file" mapstructure:"thresholds_file"`
}

// DefaultPaths returns the conventional canon layout.
func DefaultPaths() Paths {
	return Paths{
		Dir:            "canon",
		ExecutionFile:  "module-one-v2/execution.json",
		LogicFile:      "module-two/logic.json",
		ThresholdsFile: "module-one/thresholds.json",
	}
}

func (p Paths) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) || p.Dir == "" {
		return name
	}
	return filepath.Join(p.Dir, name)
}

// Load reads the requested canon parts. A missing execution or logic file is
// fatal when its part is requested. The thresholds file is optional: when it
// is absent the built-in cutoffs apply.
func Load(paths Paths, parts Part) (*Canon, error) {
	var (
		datasets   []DatasetRule
		rules      Rules
		thresholds []Threshold
	)

	if parts&PartExecution != 0 {
		data, err := readCanonFile(paths.resolve(paths.ExecutionFile))
		if err != nil {
			return nil, err
		}
		datasets, err = ParseExecution(data)
		if err != nil {
			return nil, eris.Wrapf(err, "canon: parse %s", paths.ExecutionFile)
		}
	}

	if parts&PartLogic != 0 {
		data, err := readCanonFile(paths.resolve(paths.LogicFile))
		if err != nil {
			return nil, err
		}
		rules, err = ParseLogic(data)
		if err != nil {
			return nil, eris.Wrapf(err, "canon: parse %s", paths.LogicFile)
		}
	}

	if parts&PartThresholds != 0 && paths.ThresholdsFile != "" {
		data, err := readCanonFile(paths.resolve(paths.ThresholdsFile))
		switch {
		case eris.Is(err, ErrCanonNotFound):
			// built-in cutoffs
		case err != nil:
			return nil, err
		default:
			thresholds, err = ParseThresholds(data)
			if err != nil {
				return nil, eris.Wrapf(err, "canon: parse %s", paths.ThresholdsFile)
			}
		}
	}

	return New(datasets, rules, thresholds)
}

func readCanonFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrCanonNotFound, "canon: %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "canon: read %s", path)
	}
	return data, nil
}

// ParseExecution parses a Module One execution document:
//
//	{"datasets": {"<NAME>": {"min_facts_to_measure": <int>}}}
//
// Datasets are returned in document order.
func ParseExecution(data []byte) ([]DatasetRule, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.New("canon: invalid JSON")
	}
	node := gjson.GetBytes(data, "datasets")
	if !node.Exists() {
		return nil, nil
	}
	if !node.IsObject() {
		return nil, eris.New("canon: datasets must be an object")
	}

	var (
		out     []DatasetRule
		walkErr error
	)
	node.ForEach(func(key, value gjson.Result) bool {
		rule := DatasetRule{Name: key.String(), MinFactsToMeasure: DefaultMinFactsToMeasure}
		if v := value.Get("min_facts_to_measure"); v.Exists() {
			n, err := wholeNumber(v)
			if err != nil {
				walkErr = eris.Wrapf(err, "canon: dataset %s min_facts_to_measure", rule.Name)
				return false
			}
			rule.MinFactsToMeasure = n
		}
		out = append(out, rule)
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// ParseLogic parses a Module Two logic document:
//
//	{"rules": {"max_exception_surface": <int>, "required_measurements": [...]}}
func ParseLogic(data []byte) (Rules, error) {
	if !gjson.ValidBytes(data) {
		return Rules{}, eris.New("canon: invalid JSON")
	}
	node := gjson.GetBytes(data, "rules")
	if !node.IsObject() {
		return Rules{}, eris.New("canon: rules must be an object")
	}

	var r Rules
	maxSurface := node.Get("max_exception_surface")
	if !maxSurface.Exists() {
		return Rules{}, eris.New("canon: rules.max_exception_surface is required")
	}
	n, err := wholeNumber(maxSurface)
	if err != nil {
		return Rules{}, eris.Wrap(err, "canon: rules.max_exception_surface")
	}
	r.MaxExceptionSurface = n

	required := node.Get("required_measurements")
	if !required.Exists() {
		return Rules{}, eris.New("canon: rules.required_measurements is required")
	}
	if !required.IsArray() {
		return Rules{}, eris.New("canon: rules.required_measurements must be an array")
	}
	for i, f := range required.Array() {
		if f.Type != gjson.String {
			return Rules{}, eris.Errorf("canon: rules.required_measurements[%d] must be a string", i)
		}
		r.RequiredMeasurements = append(r.RequiredMeasurements, f.String())
	}

	if f := node.Get("exception_surface_field"); f.Exists() {
		if f.Type != gjson.String {
			return Rules{}, eris.New("canon: rules.exception_surface_field must be a string")
		}
		r.ExceptionSurfaceField = f.String()
	}
	return r, nil
}

// ParseThresholds parses a classifier thresholds document:
//
//	{"thresholds": {"STRUCTURAL": {"GREEN": 0.70, "YELLOW": 0.40}}}
func ParseThresholds(data []byte) ([]Threshold, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.New("canon: invalid JSON")
	}
	node := gjson.GetBytes(data, "thresholds")
	if !node.IsObject() {
		return nil, eris.New("canon: thresholds must be an object")
	}

	out := []Threshold{}
	var walkErr error
	node.ForEach(func(key, value gjson.Result) bool {
		green, yellow := value.Get("GREEN"), value.Get("YELLOW")
		if green.Type != gjson.Number || yellow.Type != gjson.Number {
			walkErr = eris.Errorf("canon: threshold %s needs numeric GREEN and YELLOW", key.String())
			return false
		}
		out = append(out, Threshold{Dataset: key.String(), Green: green.Float(), Yellow: yellow.Float()})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func wholeNumber(v gjson.Result) (int, error) {
	if v.Type != gjson.Number {
		return 0, eris.Errorf("expected a number, got %s", v.Raw)
	}
	n := v.Int()
	if float64(n) != v.Float() {
		return 0, eris.Errorf("expected an integer, got %s", v.Raw)
	}
	return int(n), nil
}
