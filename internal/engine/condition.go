package engine

import (
	"strings"

	"github.com/alexisbeaulieu97/loomwork/internal/config"
	"github.com/alexisbeaulieu97/loomwork/internal/model"
)

// EvaluateCondition decides whether a step gated by cond should proceed
// (spec.md §4.4). results holds every terminal result recorded so far in the
// run; predecessorID is the step's insertion-order predecessor, used only by
// PreviousStepStatus ("" if the step is first in the document).
//
// A nil condition always proceeds. A condition whose field names a step with
// no recorded result evaluates false, with a reason naming that step
// (spec.md §4.4 "Edge cases"). BuildDAG makes every existing step a condition
// names a dependency, so that step is terminal by the time this runs; a
// missing result here means the field names no step in the workflow.
func EvaluateCondition(cond *config.Condition, results map[string]*model.StepResult, predecessorID string) (proceed bool, reason string) {
	if cond == nil {
		return true, ""
	}

	switch cond.Kind {
	case config.ConditionOutputContains, config.ConditionOutputEquals:
		res, ok := results[cond.Field]
		if !ok {
			return false, "unknown step " + cond.Field
		}
		return compare(cond.Operator, res.Output, cond.Value), ""

	case config.ConditionStatusEquals:
		res, ok := results[cond.Field]
		if !ok {
			return false, "unknown step " + cond.Field
		}
		return compare(cond.Operator, string(res.State), cond.Value), ""

	case config.ConditionErrorContains:
		res, ok := results[cond.Field]
		if !ok {
			return false, "unknown step " + cond.Field
		}
		return compare(cond.Operator, res.Error, cond.Value), ""

	case config.ConditionPreviousStepStatus:
		state := ""
		if predecessorID != "" {
			if res, ok := results[predecessorID]; ok {
				state = string(res.State)
			}
		}
		return compare(cond.Operator, state, cond.Value), ""

	default:
		return true, ""
	}
}

func compare(op config.ConditionOperator, actual, value string) bool {
	switch op {
	case config.OpEquals:
		return actual == value
	case config.OpNotEquals:
		return actual != value
	case config.OpContains:
		return strings.Contains(actual, value)
	case config.OpNotContains:
		return !strings.Contains(actual, value)
	default:
		return false
	}
}
