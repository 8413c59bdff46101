package engine

import "time"

// AuditEvent is one entry in the execution trail.
type AuditEvent struct {
	At      time.Time      `json:"at"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

const (
	AuditResumed            = "RESUMED"
	AuditEvidenceCaptured   = "EVIDENCE_CAPTURED"
	AuditStepSkipped        = "STEP_SKIPPED"
	AuditAdvanced           = "ADVANCED"
	AuditRetreated          = "RETREATED"
	AuditBranchTaken        = "BRANCH_TAKEN"
	AuditBranchRefused      = "BRANCH_REFUSED"
	AuditSignatureCaptured  = "SIGNATURE_CAPTURED"
	AuditDraftSaveFailed    = "DRAFT_SAVE_FAILED"
	AuditCompletionRejected = "COMPLETION_REJECTED"
	AuditCompleted          = "COMPLETED"
)

func (s *Sequencer) appendAudit(kind, message string, data map[string]any) {
	s.audit = append(s.audit, AuditEvent{
		At:      s.now(),
		Kind:    kind,
		Message: message,
		Data:    data,
	})
}

// AuditTrail returns a copy of the recorded execution trail.
func (s *Sequencer) AuditTrail() []AuditEvent {
	out := make([]AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}
