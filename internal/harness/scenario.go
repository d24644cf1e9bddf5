package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a single flow run with its expected trace.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Definition is an inline YAML flow definition. Exactly one of
	// Definition and DefinitionFile is set.
	Definition     string `yaml:"definition,omitempty"`
	DefinitionFile string `yaml:"definition_file,omitempty"`

	Flow      string         `yaml:"flow"`
	NodeArgs  any            `yaml:"node_args,omitempty"`
	Selective *SelectiveStep `yaml:"selective,omitempty"`

	// MaxSteps overrides the engine's default step quota when positive.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Tasks configures task handlers. Tasks missing here succeed with a
	// nil result.
	Tasks map[string]TaskOutcome `yaml:"tasks,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// SelectiveStep starts the flow in selective mode.
type SelectiveStep struct {
	Targets        []string `yaml:"targets"`
	FollowSubflows bool     `yaml:"follow_subflows,omitempty"`
	RunSubsequent  bool     `yaml:"run_subsequent,omitempty"`
}

// TaskOutcome is what a task handler returns.
type TaskOutcome struct {
	Result any `yaml:"result,omitempty"`
	// Fail makes the task fail with this message.
	Fail string `yaml:"fail,omitempty"`
	// FailTimes limits Fail to the first n calls; 0 fails every call.
	FailTimes int `yaml:"fail_times,omitempty"`
}

// Assertion is a check against the trace or the final flow result.
//
// Events are written as "<event type> <node>", e.g. "task_failed A".
type Assertion struct {
	Type   string   `yaml:"type"`
	Event  string   `yaml:"event,omitempty"`
	Events []string `yaml:"events,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	Status string   `yaml:"status,omitempty"`
	Node   string   `yaml:"node,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalStatus   = "final_status"
	AssertFinished      = "finished"
	AssertFailed        = "failed"
)

// LoadScenario reads and parses a scenario YAML file. A relative
// definition_file is resolved against the scenario's directory.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.DefinitionFile != "" && !filepath.IsAbs(scenario.DefinitionFile) {
		scenario.DefinitionFile = filepath.Join(filepath.Dir(path), scenario.DefinitionFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Definition == "" && s.DefinitionFile == "":
		return fmt.Errorf("one of definition or definition_file is required")
	case s.Definition != "" && s.DefinitionFile != "":
		return fmt.Errorf("definition and definition_file are mutually exclusive")
	}

	if s.DefinitionFile != "" {
		if _, err := os.Stat(s.DefinitionFile); os.IsNotExist(err) {
			return fmt.Errorf("definition file not found: %s", s.DefinitionFile)
		}
	}

	if s.Flow == "" {
		return fmt.Errorf("flow is required")
	}

	if s.Selective != nil && len(s.Selective.Targets) == 0 {
		return fmt.Errorf("selective: targets list is required")
	}

	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	for name, outcome := range s.Tasks {
		if outcome.FailTimes < 0 {
			return fmt.Errorf("tasks[%s]: fail_times must be non-negative", name)
		}
		if outcome.FailTimes > 0 && outcome.Fail == "" {
			return fmt.Errorf("tasks[%s]: fail_times requires fail", name)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for final_status", index)
		}
	case AssertFinished, AssertFailed:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
