// Package autotest replays recorded client sessions against fresh documents.
//
// A scenario is a YAML file listing requests and the response each one is
// expected to produce:
//
//	name: greet
//	screen: Main
//	steps:
//	  - request: {block: Inputs, element: city, event: changed, value: Paris}
//	    expect: null
//	  - request: {block: Inputs, element: greet, event: changed, value: null}
//	    expect: {type: info, value: Hello from Paris}
//
// Responses are compared as JSON, ignoring toolbars. A Recorder captures a
// live session into a scenario.
package autotest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/unisync/internal/protocol"
)

// Scenario is one replayable session.
type Scenario struct {
	// Name identifies the scenario in reports and golden files.
	Name string `yaml:"name"`

	// Screen is selected before the first step. Empty keeps the first screen.
	Screen string `yaml:"screen,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one request and the response it must produce. A nil Expect
// expects no response.
type Step struct {
	Request protocol.Request `yaml:"request"`
	Expect  any              `yaml:"expect"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	for i := range sc.Steps {
		if sc.Steps[i].Request, err = normalize(sc.Steps[i].Request); err != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", sc.Name, i+1, err)
		}
	}
	return &sc, nil
}

// LoadDir loads the scenarios of dir named by names. A single "*" loads
// every *.yaml file in name order.
func LoadDir(dir string, names []string) ([]*Scenario, error) {
	if len(names) == 1 && names[0] == "*" {
		matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		names = nil
		for _, m := range matches {
			names = append(names, filepath.Base(m))
		}
	}
	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		sc, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// Save writes sc as YAML.
func (sc *Scenario) Save(path string) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode scenario %s: %w", sc.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write scenario %s: %w", sc.Name, err)
	}
	return nil
}

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, st := range sc.Steps {
		if st.Request.Event == "" {
			return fmt.Errorf("step %d: request event is required", i+1)
		}
	}
	return nil
}

// normalize passes r through JSON so its value has the types a client
// request decodes to: float64 numbers, []any and map[string]any.
func normalize(r protocol.Request) (protocol.Request, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("encode request: %w", err)
	}
	var out protocol.Request
	if err := json.Unmarshal(data, &out); err != nil {
		return r, fmt.Errorf("decode request: %w", err)
	}
	return out, nil
}
