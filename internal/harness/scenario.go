package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a document, a tick count,
// optional scripted hardware frames, and assertions over the resulting
// trace.
type Scenario struct {
	// Name uniquely identifies the scenario. Golden files are named
	// after it.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Documents maps module names to inline document source. Entry
	// names the module whose _config governs the run.
	Documents map[string]string `yaml:"documents"`
	Entry     string            `yaml:"entry"`

	// Ticks is how many ticks to evaluate.
	Ticks int `yaml:"ticks"`

	// RunToken fixes the run token so traces compare byte for byte.
	// Defaults to "test-run".
	RunToken string `yaml:"run_token,omitempty"`

	// HWFrames scripts the hardware adapter: one frame per tick, keyed
	// by fully qualified input ID. The last frame holds for any
	// remaining ticks.
	HWFrames []map[string]any `yaml:"hw_frames,omitempty"`

	// Assertions validate the trace after the final tick.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one aspect of a recorded trace.
type Assertion struct {
	// Type selects the check:
	//   - "value": a port holds an expected value at a tick
	//   - "diagnostic": a diagnostic with the given code was raised
	//   - "no_diagnostics": the whole run is clean
	Type string `yaml:"type"`

	// Tick selects the tick to inspect (value assertions). Defaults to
	// the final tick.
	Tick *int64 `yaml:"tick,omitempty"`

	// Port is the fully qualified port ID (value assertions).
	Port string `yaml:"port,omitempty"`

	// Equals is the expected value. Numbers compare within Tolerance.
	Equals any `yaml:"equals,omitempty"`

	// Tolerance widens numeric comparison. 0 means exact.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Code, Component and Port narrow diagnostic assertions.
	Code      string `yaml:"code,omitempty"`
	Component string `yaml:"component,omitempty"`

	// Count pins the number of matching diagnostics. Nil means at
	// least one.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertValue         = "value"
	AssertDiagnostic    = "diagnostic"
	AssertNoDiagnostics = "no_diagnostics"
)

// DefaultRunToken is used when a scenario does not fix its own token.
const DefaultRunToken = "test-run"

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo fails loudly instead of silently skipping a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if s.RunToken == "" {
		s.RunToken = DefaultRunToken
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Documents) == 0 {
		return fmt.Errorf("documents is required and must be non-empty")
	}
	if s.Entry == "" {
		return fmt.Errorf("entry is required")
	}
	if _, ok := s.Documents[s.Entry]; !ok {
		return fmt.Errorf("entry %q not among documents", s.Entry)
	}
	if s.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertValue:
		if a.Port == "" {
			return fmt.Errorf("assertions[%d]: port is required for value", index)
		}
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for value", index)
		}
	case AssertDiagnostic:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for diagnostic", index)
		}
	case AssertNoDiagnostics:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
