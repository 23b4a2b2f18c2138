package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	loomerrors "github.com/alexisbeaulieu97/loomwork/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseWorkflow reads, decodes, and validates a workflow document from disk
// (spec.md §4.2). resolver is consulted for the "plugin name must resolve"
// rule; pass nil to skip that check (the `validate` CLI subcommand never
// touches the plugin host, per spec.md §6).
func ParseWorkflow(path string, resolver PluginResolver) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loomerrors.NewParseError(path, 0, err)
	}

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, loomerrors.NewParseError(path, extractLine(err), err)
	}

	report := ValidateWorkflow(&wf, resolver)
	if report.HasErrors() {
		return nil, report.AsReport()
	}

	return &wf, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
