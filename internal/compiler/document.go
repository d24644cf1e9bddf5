package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk graph definition. YAML and CUE sources decode
// into the same structure; CUE decoding goes through the json tags.
type Document struct {
	Tasks []TaskDoc `yaml:"tasks" json:"tasks"`
	Flows []FlowDoc `yaml:"flows" json:"flows"`
}

// TaskDoc declares a leaf task.
type TaskDoc struct {
	Name     string `yaml:"name" json:"name"`
	Queue    string `yaml:"queue,omitempty" json:"queue,omitempty"`
	Storage  string `yaml:"storage,omitempty" json:"storage,omitempty"`
	Throttle string `yaml:"throttle,omitempty" json:"throttle,omitempty"`
}

// FlowDoc declares a flow and its edge table.
type FlowDoc struct {
	Name          string         `yaml:"name" json:"name"`
	Queue         string         `yaml:"queue,omitempty" json:"queue,omitempty"`
	Throttle      string         `yaml:"throttle,omitempty" json:"throttle,omitempty"`
	MaxSteps      int            `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	NoWait        []string       `yaml:"nowait,omitempty" json:"nowait,omitempty"`
	EagerFailures any            `yaml:"eager_failures,omitempty" json:"eager_failures,omitempty"`
	Propagate     PropagateDoc   `yaml:"propagate,omitempty" json:"propagate,omitempty"`
	Strategy      map[string]any `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Edges         []EdgeDoc      `yaml:"edges" json:"edges"`
	Failures      []FailureDoc   `yaml:"failures,omitempty" json:"failures,omitempty"`
}

// PropagateDoc holds the propagation selectors. Each accepts true, "all"
// or a list of sub-flow names.
type PropagateDoc struct {
	NodeArgs         any `yaml:"node_args,omitempty" json:"node_args,omitempty"`
	Parent           any `yaml:"parent,omitempty" json:"parent,omitempty"`
	Finished         any `yaml:"finished,omitempty" json:"finished,omitempty"`
	CompoundFinished any `yaml:"compound_finished,omitempty" json:"compound_finished,omitempty"`
}

// EdgeDoc declares one edge. From and To accept a name or a list of names.
type EdgeDoc struct {
	From      any           `yaml:"from" json:"from"`
	To        any           `yaml:"to" json:"to"`
	Condition *ConditionDoc `yaml:"condition,omitempty" json:"condition,omitempty"`
	Foreach   *ForeachDoc   `yaml:"foreach,omitempty" json:"foreach,omitempty"`
}

// ConditionDoc is a predicate tree. A leaf sets Name; inner nodes set
// exactly one of And, Or, Not.
type ConditionDoc struct {
	Name string         `yaml:"name,omitempty" json:"name,omitempty"`
	Args map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	And  []ConditionDoc `yaml:"and,omitempty" json:"and,omitempty"`
	Or   []ConditionDoc `yaml:"or,omitempty" json:"or,omitempty"`
	Not  *ConditionDoc  `yaml:"not,omitempty" json:"not,omitempty"`
}

// ForeachDoc declares a fan-out generator.
type ForeachDoc struct {
	Function        string         `yaml:"function" json:"function"`
	Args            map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	PropagateResult bool           `yaml:"propagate_result,omitempty" json:"propagate_result,omitempty"`
}

// FailureDoc declares a fallback for a combination of failed nodes.
// Fallback is either a list of node names or true.
type FailureDoc struct {
	Nodes     any           `yaml:"nodes" json:"nodes"`
	Fallback  any           `yaml:"fallback" json:"fallback"`
	Condition *ConditionDoc `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// ParseYAML decodes a YAML definition.
func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &CompileError{Code: ErrCodeParse, Field: "document", Message: err.Error()}
	}
	return &doc, nil
}

// ParseCUE evaluates CUE source and decodes it into a Document.
func ParseCUE(filename string, data []byte) (*Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	var doc Document
	if err := v.Decode(&doc); err != nil {
		return nil, formatCUEError(err)
	}
	return &doc, nil
}

// ParseFile reads a definition, selecting the format by extension.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(path, data)
	default:
		return nil, &CompileError{
			Code:    ErrCodeParse,
			Field:   "document",
			Message: fmt.Sprintf("unsupported definition format %q", filepath.Ext(path)),
		}
	}
}

// source renders the condition as canonical JSON. The std-compatible sonic
// config sorts map keys, so equal trees render to equal strings.
func (c *ConditionDoc) source() string {
	if c == nil {
		return `{"name":"alwaysTrue"}`
	}
	b, err := sonic.ConfigStd.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return string(b)
}
