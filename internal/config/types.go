// Package config parses and validates workflow documents (spec.md §3/§4.2):
// a named, ordered list of steps, each bound to a plugin, an input
// specification, dependencies, retry policy, an optional cache key, and an
// optional condition gate.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConditionKind selects which quantity a Condition compares (spec.md §4.4).
type ConditionKind string

const (
	ConditionOutputContains    ConditionKind = "OutputContains"
	ConditionOutputEquals      ConditionKind = "OutputEquals"
	ConditionStatusEquals      ConditionKind = "StatusEquals"
	ConditionErrorContains     ConditionKind = "ErrorContains"
	ConditionPreviousStepStatus ConditionKind = "PreviousStepStatus"
)

// ConditionOperator is the comparison applied between the observed value and Value.
type ConditionOperator string

const (
	OpEquals     ConditionOperator = "Equals"
	OpNotEquals  ConditionOperator = "NotEquals"
	OpContains   ConditionOperator = "Contains"
	OpNotContains ConditionOperator = "NotContains"
)

// Condition gates whether a step executes (spec.md §4.4).
type Condition struct {
	Kind     ConditionKind     `yaml:"condition_type" validate:"required,oneof=OutputContains OutputEquals StatusEquals ErrorContains PreviousStepStatus"`
	Field    string            `yaml:"field,omitempty"`
	Operator ConditionOperator `yaml:"operator" validate:"required,oneof=Equals NotEquals Contains NotContains"`
	Value    string            `yaml:"value"`
}

// referencesStep reports whether the condition names a specific step id in Field.
func (c *Condition) referencesStep() bool {
	return c != nil && c.Kind != ConditionPreviousStepStatus && c.Field != ""
}

// Workflow is the parsed YAML document (spec.md §3, §6).
type Workflow struct {
	Name  string `yaml:"workflow,omitempty"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`

	// UnknownKeys records top-level keys outside {workflow, steps}; spec.md
	// §4.2 rule 1 treats these as warnings, never as validation errors.
	UnknownKeys []string `yaml:"-"`
}

var recognizedTopLevelKeys = map[string]bool{
	"workflow": true,
	"steps":    true,
}

var recognizedStepKeys = map[string]bool{
	"id":          true,
	"run":         true,
	"input":       true,
	"input_from":  true,
	"depends_on":  true,
	"retries":     true,
	"retry_delay": true,
	"cache_key":   true,
	"description": true,
	"input_type":  true,
	"condition":   true,
}

// UnmarshalYAML records unrecognized top-level keys as warnings (spec.md
// §4.2 rule 1) instead of rejecting the document, mirroring the teacher's
// tolerant-but-informative decoding style.
func (w *Workflow) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow document must be a mapping")
	}

	type rawWorkflow struct {
		Name  string `yaml:"workflow"`
		Steps []Step `yaml:"steps"`
	}
	var raw rawWorkflow
	if err := value.Decode(&raw); err != nil {
		return err
	}

	w.Name = raw.Name
	w.Steps = raw.Steps
	w.UnknownKeys = nil
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !recognizedTopLevelKeys[key] {
			w.UnknownKeys = append(w.UnknownKeys, key)
		}
	}

	synthesizeIDs(w.Steps)
	return nil
}

// synthesizeIDs assigns step{N} (1-based insertion order) to any step whose
// id was omitted in source (spec.md §3).
func synthesizeIDs(steps []Step) {
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = fmt.Sprintf("step%d", i+1)
		}
	}
}

// Step is a single unit of work (spec.md §3).
type Step struct {
	ID           string     `yaml:"id,omitempty" validate:"required,step_id"`
	Plugin       string     `yaml:"run" validate:"required"`
	Input        *string    `yaml:"input,omitempty"`
	InputFrom    string     `yaml:"input_from,omitempty"`
	DependsOn    []string   `yaml:"depends_on,omitempty"`
	Retries      int        `yaml:"retries,omitempty" validate:"gte=0"`
	RetryDelayMs int        `yaml:"retry_delay,omitempty" validate:"gte=0"`
	CacheKey     string     `yaml:"cache_key,omitempty"`
	Description  string     `yaml:"description,omitempty"`
	InputType    string     `yaml:"input_type,omitempty" validate:"omitempty,oneof=text audio image video file"`
	Condition    *Condition `yaml:"condition,omitempty"`

	hasInput     bool
	hasInputFrom bool
	unknownKeys  []string
}

// UnmarshalYAML tracks which of input/input_from were actually present in
// source (so the exclusivity rule in spec.md §4.2 rule 3 can be enforced
// precisely rather than by zero-value inference) and collects unrecognized
// step keys for rule 2's "unknown fields" error.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("step must be a mapping")
	}

	type rawStep struct {
		ID           string     `yaml:"id"`
		Plugin       string     `yaml:"run"`
		Input        *string    `yaml:"input"`
		InputFrom    string     `yaml:"input_from"`
		DependsOn    []string   `yaml:"depends_on"`
		Retries      int        `yaml:"retries"`
		RetryDelayMs int        `yaml:"retry_delay"`
		CacheKey     string     `yaml:"cache_key"`
		Description  string     `yaml:"description"`
		InputType    string     `yaml:"input_type"`
		Condition    *Condition `yaml:"condition"`
	}
	var raw rawStep
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*s = Step{
		ID:           raw.ID,
		Plugin:       raw.Plugin,
		Input:        raw.Input,
		InputFrom:    raw.InputFrom,
		DependsOn:    append([]string(nil), raw.DependsOn...),
		Retries:      raw.Retries,
		RetryDelayMs: raw.RetryDelayMs,
		CacheKey:     raw.CacheKey,
		Description:  raw.Description,
		InputType:    raw.InputType,
		Condition:    raw.Condition,
	}
	s.hasInput = hasYAMLKey(value, "input")
	s.hasInputFrom = hasYAMLKey(value, "input_from")

	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !recognizedStepKeys[key] {
			s.unknownKeys = append(s.unknownKeys, key)
		}
	}

	return nil
}

// EffectiveDependencies returns depends_on ∪ {input_from} ∪ {condition
// field}, the set spec.md §3/§4.4 uses for both layering and gating.
func (s Step) EffectiveDependencies() []string {
	seen := make(map[string]bool, len(s.DependsOn)+2)
	var deps []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		deps = append(deps, id)
	}

	for _, dep := range s.DependsOn {
		add(dep)
	}
	add(s.InputFrom)
	if s.Condition.referencesStep() {
		add(s.Condition.Field)
	}
	return deps
}

func hasYAMLKey(node *yaml.Node, key string) bool {
	if node == nil || node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		if strings.EqualFold(node.Content[i].Value, key) {
			return true
		}
	}
	return false
}

// StepMap builds a lookup table for steps by id.
func StepMap(steps []Step) map[string]Step {
	out := make(map[string]Step, len(steps))
	for _, step := range steps {
		out[step.ID] = step
	}
	return out
}
