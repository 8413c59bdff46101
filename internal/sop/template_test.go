package sop

import (
	"strings"
	"testing"
)

func validTemplate() *SOPTemplate {
	return &SOPTemplate{
		ID:   "tpl-1",
		Name: "Line clearance",
		Steps: []SOPStep{
			{ID: "a", Title: "Inspect", Order: 1, EvidenceRequired: true, EvidenceType: EvidenceNumeric},
			{ID: "b", Title: "Record", Order: 2, EvidenceRequired: false, EvidenceType: EvidenceText},
			{ID: "c", Title: "Confirm", Order: 3, EvidenceRequired: true, EvidenceType: EvidenceText},
		},
	}
}

func TestTemplateValidate_Valid(t *testing.T) {
	if err := validTemplate().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTemplateValidate_DuplicateStepID(t *testing.T) {
	tpl := validTemplate()
	tpl.Steps[2].ID = "a"
	err := tpl.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "duplicate step id") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTemplateValidate_OrderMustIncrease(t *testing.T) {
	tpl := validTemplate()
	tpl.Steps[2].Order = 2
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected error for non-increasing order")
	}
	tpl.Steps[2].Order = 1
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected error for decreasing order")
	}
}

func TestTemplateValidate_ConditionalInvariants(t *testing.T) {
	tpl := validTemplate()
	tpl.Steps[0].IsConditional = true
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected error: conditional step without rules")
	}

	tpl = validTemplate()
	tpl.Steps[0].ConditionalLogic = []ConditionalRule{
		{StepID: "a", Condition: ConditionEquals, Value: "1", NextStepID: "c"},
	}
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected error: rules without is_conditional")
	}

	tpl.Steps[0].IsConditional = true
	if err := tpl.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tpl.Steps[0].ConditionalLogic[0].Condition = "approximately"
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected error for unknown condition")
	}
}

func TestTemplateValidate_DualSignoffConfig(t *testing.T) {
	tpl := validTemplate()
	tpl.RequiresDualSignoff = true
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected error: missing dual_signature config")
	}

	tpl.DualSignature = &DualSignatureConfig{Role1: "supervisor", Role2: "supervisor"}
	if err := tpl.Validate(); err == nil {
		t.Fatalf("expected error: identical roles")
	}

	tpl.DualSignature = &DualSignatureConfig{Role1: "supervisor", Role2: "quality"}
	if err := tpl.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSignoffStepIndex_PrefersDualSignatureStep(t *testing.T) {
	tpl := validTemplate()
	if got := tpl.SignoffStepIndex(); got != 2 {
		t.Fatalf("expected last index 2, got %d", got)
	}

	tpl.Steps[1].EvidenceType = EvidenceDualSignature
	if got := tpl.SignoffStepIndex(); got != 1 {
		t.Fatalf("expected dual-signature step index 1, got %d", got)
	}
}

func TestClampIndex(t *testing.T) {
	cases := []struct {
		in, n, want int
	}{
		{-5, 3, 0},
		{0, 3, 0},
		{2, 3, 2},
		{3, 3, 2},
		{99, 3, 2},
		{1, 0, 0},
	}
	for _, c := range cases {
		if got := ClampIndex(c.in, c.n); got != c.want {
			t.Fatalf("ClampIndex(%d, %d) = %d, want %d", c.in, c.n, got, c.want)
		}
	}
}
