package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]bool

func (f fakeResolver) Has(name string) bool { return f[name] }

func TestValidateWorkflowRejectsEmptySteps(t *testing.T) {
	t.Parallel()

	report := ValidateWorkflow(&Workflow{}, nil)
	require.True(t, report.HasErrors())
	require.Contains(t, report.Error(), "at least one step")
}

func TestValidateWorkflowRejectsInputAndInputFromTogether(t *testing.T) {
	t.Parallel()

	input := "x"
	wf := &Workflow{Steps: []Step{
		{ID: "step1", Plugin: "Echo"},
		{ID: "step2", Plugin: "Echo", Input: &input, InputFrom: "step1", hasInput: true, hasInputFrom: true},
	}}

	report := ValidateWorkflow(wf, nil)
	require.True(t, report.HasErrors())
	require.Contains(t, report.Error(), "at most one of input and input_from")
}

func TestValidateWorkflowRejectsUnresolvedReferences(t *testing.T) {
	t.Parallel()

	wf := &Workflow{Steps: []Step{
		{ID: "step1", Plugin: "Echo", DependsOn: []string{"missing"}},
	}}

	report := ValidateWorkflow(wf, nil)
	require.True(t, report.HasErrors())
	require.Contains(t, report.Error(), `references unknown step "missing"`)
}

func TestValidateWorkflowRejectsCycle(t *testing.T) {
	t.Parallel()

	wf := &Workflow{Steps: []Step{
		{ID: "step1", Plugin: "Echo", DependsOn: []string{"step2"}},
		{ID: "step2", Plugin: "Echo", DependsOn: []string{"step1"}},
	}}

	report := ValidateWorkflow(wf, nil)
	require.True(t, report.HasErrors())
	require.Contains(t, report.Error(), "dependency cycle detected")
}

func TestValidateWorkflowRejectsUnresolvedPlugin(t *testing.T) {
	t.Parallel()

	wf := &Workflow{Steps: []Step{
		{ID: "step1", Plugin: "Nonexistent"},
	}}

	report := ValidateWorkflow(wf, fakeResolver{"Echo": true})
	require.True(t, report.HasErrors())
	require.Contains(t, report.Error(), `plugin "Nonexistent" is not available`)
}

func TestValidateWorkflowSkipsPluginResolutionWithNilResolver(t *testing.T) {
	t.Parallel()

	wf := &Workflow{Steps: []Step{
		{ID: "step1", Plugin: "Anything"},
	}}

	report := ValidateWorkflow(wf, nil)
	require.False(t, report.HasErrors())
}

func TestValidateWorkflowAccumulatesMultipleFailures(t *testing.T) {
	t.Parallel()

	wf := &Workflow{Steps: []Step{
		{ID: "step1", Plugin: "Echo", DependsOn: []string{"missing"}, Retries: -1},
	}}

	report := ValidateWorkflow(wf, nil)
	require.True(t, report.HasErrors())
	require.GreaterOrEqual(t, len(report.Errors), 2)
}

func TestValidateWorkflowReportsDuplicateStepIDs(t *testing.T) {
	t.Parallel()

	wf := &Workflow{Steps: []Step{
		{ID: "dup", Plugin: "Echo"},
		{ID: "dup", Plugin: "Echo"},
	}}

	report := ValidateWorkflow(wf, nil)
	require.True(t, report.HasErrors())
	require.Contains(t, report.Error(), `duplicate step id "dup"`)
}

func TestValidateWorkflowReportsUnknownStepFields(t *testing.T) {
	t.Parallel()

	wf := &Workflow{Steps: []Step{
		{ID: "step1", Plugin: "Echo", unknownKeys: []string{"bogus"}},
	}}

	report := ValidateWorkflow(wf, nil)
	require.True(t, report.HasErrors())
	require.Contains(t, report.Error(), "unknown field(s): bogus")
}
