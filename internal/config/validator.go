package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	loomerrors "github.com/alexisbeaulieu97/loomwork/pkg/errors"
)

// PluginResolver answers whether a plugin name is known to the plugin host
// (spec.md §4.2 rule 6). *pluginhost.Host satisfies this interface; tests
// and the `validate` CLI subcommand may pass nil to skip the check.
type PluginResolver interface {
	Has(name string) bool
}

// ValidateWorkflow enforces every rule in spec.md §4.2 and returns a report
// carrying every offending rule rather than stopping at the first failure.
func ValidateWorkflow(wf *Workflow, resolver PluginResolver) *loomerrors.ValidationReport {
	report := &loomerrors.ValidationReport{}

	if wf == nil {
		report.Add("workflow", "document is nil")
		return report
	}
	if len(wf.Steps) == 0 {
		report.Add("steps", "workflow must declare at least one step")
		return report
	}

	v := validatorInstance()
	if err := v.Struct(wf); err != nil {
		addFieldErrors(report, err)
	}

	ids := make(map[string]int, len(wf.Steps))
	for i, step := range wf.Steps {
		if _, exists := ids[step.ID]; exists {
			report.Add(fieldForStep(i, "id"), fmt.Sprintf("duplicate step id %q", step.ID))
			continue
		}
		ids[step.ID] = i
	}

	for i, step := range wf.Steps {
		if len(step.unknownKeys) > 0 {
			report.Add(fieldForStep(i, ""), fmt.Sprintf("unknown field(s): %s", strings.Join(step.unknownKeys, ", ")))
		}

		if err := v.Struct(step); err != nil {
			addFieldErrors(report, err)
		}
		if step.Condition != nil {
			if err := v.Struct(step.Condition); err != nil {
				addFieldErrors(report, err)
			}
		}

		if step.hasInput && step.hasInputFrom {
			report.Add(fieldForStep(i, "input"), "at most one of input and input_from may be set")
		}

		if step.InputFrom != "" {
			if _, ok := ids[step.InputFrom]; !ok {
				report.Add(fieldForStep(i, "input_from"), fmt.Sprintf("references unknown step %q", step.InputFrom))
			}
		}

		for _, dep := range step.DependsOn {
			if _, ok := ids[dep]; !ok {
				report.Add(fieldForStep(i, "depends_on"), fmt.Sprintf("references unknown step %q", dep))
			}
		}

		if resolver != nil && !resolver.Has(step.Plugin) {
			report.Add(fieldForStep(i, "run"), fmt.Sprintf("plugin %q is not available", step.Plugin))
		}
	}

	if cycle := detectCycle(wf.Steps); len(cycle) > 0 {
		report.Add("steps", fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")))
	}

	return report
}

func addFieldErrors(report *loomerrors.ValidationReport, err error) {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		report.Add("workflow", err.Error())
		return
	}
	for _, fe := range ves {
		field := yamlishFieldName(fe)
		report.Add(field, fmt.Sprintf("failed validation for tag '%s'", fe.Tag()))
	}
}

func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	lowered := make([]string, 0, len(parts))
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForStep(index int, field string) string {
	if field == "" {
		return fmt.Sprintf("steps[%d]", index)
	}
	return fmt.Sprintf("steps[%d].%s", index, field)
}
