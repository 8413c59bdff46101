package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

// EvaluateBranch maps a captured value to the id of the step the sequence
// should jump to.
//
// It is a pure function: rules are evaluated in declaration order and the
// first matching rule wins, so a fixed step and value always produce the same
// destination. A non-conditional step or a value matching no rule reports
// ok=false, signaling the caller to fall back to the default linear advance.
func EvaluateBranch(step sop.SOPStep, value sop.EvidenceValue) (nextStepID string, ok bool) {
	if !step.IsConditional {
		return "", false
	}
	for _, rule := range step.ConditionalLogic {
		if ruleMatches(rule, value) {
			return rule.NextStepID, true
		}
	}
	return "", false
}

func ruleMatches(rule sop.ConditionalRule, value sop.EvidenceValue) bool {
	captured := valueString(value)

	switch rule.Condition {
	case sop.ConditionGreaterThan, sop.ConditionLessThan:
		got, gotOK := valueNumber(value)
		want, err := strconv.ParseFloat(strings.TrimSpace(rule.Value), 64)
		if !gotOK || err != nil {
			return false
		}
		if rule.Condition == sop.ConditionGreaterThan {
			return got > want
		}
		return got < want
	case sop.ConditionContains:
		return strings.Contains(strings.ToLower(captured), strings.ToLower(rule.Value))
	case sop.ConditionEquals:
		return captured == rule.Value
	case sop.ConditionNotEquals:
		return captured != rule.Value
	default:
		return false
	}
}

func valueNumber(v sop.EvidenceValue) (float64, bool) {
	if v.Kind == sop.EvidenceNumeric {
		return v.Number, true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func valueString(v sop.EvidenceValue) string {
	switch v.Kind {
	case sop.EvidenceNumeric:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case sop.EvidenceCheckbox:
		return strings.Join(v.Selections, ",")
	default:
		return v.Text
	}
}

// BranchDiagnostics reports template-authoring problems in branching rules:
// destinations that do not resolve to any step, and rules that point a step
// back at itself. These degrade to a default advance at runtime; surfacing
// them here keeps authors from shipping rules that never take effect.
func BranchDiagnostics(t *sop.SOPTemplate) []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, s := range t.Steps {
		for j, r := range s.ConditionalLogic {
			if _, ok := t.StepIndexByID(r.NextStepID); !ok {
				out = append(out, fmt.Sprintf("step %s rule %d: next_step_id %q does not exist", s.ID, j, r.NextStepID))
				continue
			}
			if r.NextStepID == s.ID {
				out = append(out, fmt.Sprintf("step %s rule %d: next_step_id points back at the same step", s.ID, j))
			}
		}
	}
	return out
}
