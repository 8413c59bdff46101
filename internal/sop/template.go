package sop

import (
	"errors"
	"fmt"
	"strings"
)

// EvidenceType identifies the capture mechanism a step expects.
type EvidenceType string

const (
	EvidenceNumeric       EvidenceType = "numeric"
	EvidenceCheckbox      EvidenceType = "checkbox"
	EvidencePhoto         EvidenceType = "photo"
	EvidenceSignature     EvidenceType = "signature"
	EvidenceQRScan        EvidenceType = "qr_scan"
	EvidenceText          EvidenceType = "text"
	EvidenceDualSignature EvidenceType = "dual_signature"
)

// Valid reports whether t is one of the known evidence types.
func (t EvidenceType) Valid() bool {
	switch t {
	case EvidenceNumeric, EvidenceCheckbox, EvidencePhoto, EvidenceSignature,
		EvidenceQRScan, EvidenceText, EvidenceDualSignature:
		return true
	default:
		return false
	}
}

// Condition is the comparison operator of a branching rule.
type Condition string

const (
	ConditionEquals      Condition = "equals"
	ConditionNotEquals   Condition = "not_equals"
	ConditionGreaterThan Condition = "greater_than"
	ConditionLessThan    Condition = "less_than"
	ConditionContains    Condition = "contains"
)

// Valid reports whether c is one of the known conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionEquals, ConditionNotEquals, ConditionGreaterThan,
		ConditionLessThan, ConditionContains:
		return true
	default:
		return false
	}
}

// ConditionalRule redirects the sequence when a captured value matches.
//
// Rules are evaluated in declaration order and the first match wins.
// greater_than/less_than compare as numbers, contains as a case-insensitive
// substring, the remaining conditions as raw string equality.
type ConditionalRule struct {
	StepID     string    `json:"step_id" yaml:"step_id"`
	Condition  Condition `json:"condition" yaml:"condition"`
	Value      string    `json:"value" yaml:"value"`
	NextStepID string    `json:"next_step_id" yaml:"next_step_id"`
}

// DualSignatureConfig names the two roles that must independently sign off
// before the procedure may complete.
type DualSignatureConfig struct {
	Role1       string `json:"role1" yaml:"role1"`
	Role2       string `json:"role2" yaml:"role2"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SOPStep is one procedural unit of a template.
type SOPStep struct {
	ID           string `json:"id" yaml:"id"`
	Title        string `json:"title" yaml:"title"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	SafetyNotes  string `json:"safety_notes,omitempty" yaml:"safety_notes,omitempty"`
	Order        int    `json:"order" yaml:"order"`

	// EvidenceRequired gates advancing past this step. A step with
	// EvidenceRequired=false may still carry an EvidenceType for a purely
	// informational capture.
	EvidenceRequired bool         `json:"evidence_required" yaml:"evidence_required"`
	EvidenceType     EvidenceType `json:"evidence_type,omitempty" yaml:"evidence_type,omitempty"`

	IsConditional    bool              `json:"is_conditional,omitempty" yaml:"is_conditional,omitempty"`
	ConditionalLogic []ConditionalRule `json:"conditional_logic,omitempty" yaml:"conditional_logic,omitempty"`

	IsHighRisk bool `json:"is_high_risk,omitempty" yaml:"is_high_risk,omitempty"`

	// Per-type capture constraints. Nil means unconstrained.
	MinValue  *float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue  *float64 `json:"max_value,omitempty" yaml:"max_value,omitempty"`
	Options   []string `json:"options,omitempty" yaml:"options,omitempty"`
	MinLength *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

// SOPTemplate is an immutable procedure definition.
type SOPTemplate struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	RequiresDualSignoff bool                 `json:"requires_dual_signoff,omitempty" yaml:"requires_dual_signoff,omitempty"`
	DualSignature       *DualSignatureConfig `json:"dual_signature,omitempty" yaml:"dual_signature,omitempty"`

	Steps []SOPStep `json:"steps" yaml:"steps"`
}

// Validate checks the structural invariants of the template.
//
// All violations are accumulated and reported together.
func (t *SOPTemplate) Validate() error {
	if t == nil {
		return errors.New("nil template")
	}

	var errs []error
	if strings.TrimSpace(t.ID) == "" {
		errs = append(errs, errors.New("template id is required"))
	}
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, errors.New("template name is required"))
	}
	if len(t.Steps) == 0 {
		errs = append(errs, errors.New("template must declare at least one step"))
	}

	if t.RequiresDualSignoff {
		if t.DualSignature == nil {
			errs = append(errs, errors.New("requires_dual_signoff is set but dual_signature config is missing"))
		} else {
			if strings.TrimSpace(t.DualSignature.Role1) == "" || strings.TrimSpace(t.DualSignature.Role2) == "" {
				errs = append(errs, errors.New("dual_signature must name both role1 and role2"))
			}
			if t.DualSignature.Role1 == t.DualSignature.Role2 {
				errs = append(errs, errors.New("dual_signature roles must differ"))
			}
		}
	}

	seenIDs := make(map[string]bool, len(t.Steps))
	prevOrder := 0
	for i, s := range t.Steps {
		at := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(s.ID) == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", at))
		} else if seenIDs[s.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate step id %q", at, s.ID))
		} else {
			seenIDs[s.ID] = true
		}
		if strings.TrimSpace(s.Title) == "" {
			errs = append(errs, fmt.Errorf("%s: title is required", at))
		}

		// Order values must be unique and monotonic; the engine addresses
		// steps by index derived from this order.
		if i > 0 && s.Order <= prevOrder {
			errs = append(errs, fmt.Errorf("%s: order %d is not strictly increasing (previous %d)", at, s.Order, prevOrder))
		}
		prevOrder = s.Order

		if s.EvidenceType != "" && !s.EvidenceType.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown evidence type %q", at, s.EvidenceType))
		}
		if s.EvidenceRequired && s.EvidenceType == "" {
			errs = append(errs, fmt.Errorf("%s: evidence_required is set but evidence_type is empty", at))
		}

		if s.IsConditional && len(s.ConditionalLogic) == 0 {
			errs = append(errs, fmt.Errorf("%s: is_conditional is set but conditional_logic is empty", at))
		}
		if !s.IsConditional && len(s.ConditionalLogic) > 0 {
			errs = append(errs, fmt.Errorf("%s: conditional_logic present without is_conditional", at))
		}
		for j, r := range s.ConditionalLogic {
			if !r.Condition.Valid() {
				errs = append(errs, fmt.Errorf("%s.conditional_logic[%d]: unknown condition %q", at, j, r.Condition))
			}
			if strings.TrimSpace(r.NextStepID) == "" {
				errs = append(errs, fmt.Errorf("%s.conditional_logic[%d]: next_step_id is required", at, j))
			}
		}

		if s.MinValue != nil && s.MaxValue != nil && *s.MinValue > *s.MaxValue {
			errs = append(errs, fmt.Errorf("%s: min_value %v exceeds max_value %v", at, *s.MinValue, *s.MaxValue))
		}
		if s.MinLength != nil && s.MaxLength != nil && *s.MinLength > *s.MaxLength {
			errs = append(errs, fmt.Errorf("%s: min_length %d exceeds max_length %d", at, *s.MinLength, *s.MaxLength))
		}
		if s.EvidenceType == EvidenceCheckbox && len(s.Options) == 0 {
			errs = append(errs, fmt.Errorf("%s: checkbox step must declare options", at))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// StepIndexByID resolves a step id to its slice index.
func (t *SOPTemplate) StepIndexByID(id string) (int, bool) {
	for i, s := range t.Steps {
		if s.ID == id {
			return i, true
		}
	}
	return 0, false
}

// SignoffStepIndex returns the index of the step that models the terminal
// dual-signature authorization: the first step declared with the
// dual_signature evidence type, falling back to the last step.
func (t *SOPTemplate) SignoffStepIndex() int {
	for i, s := range t.Steps {
		if s.EvidenceType == EvidenceDualSignature {
			return i
		}
	}
	return len(t.Steps) - 1
}

// ClampIndex clamps i into the valid step index range [0, n-1].
//
// Defensive clamping guards against corrupted persisted state.
func ClampIndex(i, n int) int {
	if n <= 0 {
		return 0
	}
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}
