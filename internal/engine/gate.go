package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/evidence"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

// SignoffRequired reports whether the template gates completion behind dual
// sign-off.
func (s *Sequencer) SignoffRequired() bool {
	return s.template.RequiresDualSignoff
}

// signoffStep returns the step modeling the terminal authorization.
func (s *Sequencer) signoffStep() sop.SOPStep {
	return s.template.Steps[s.template.SignoffStepIndex()]
}

// MissingRoles lists the sign-off roles that have not produced a signature
// artifact yet, in config order. Empty once the gate is satisfied (or when no
// gate is configured).
func (s *Sequencer) MissingRoles() []string {
	if !s.SignoffRequired() {
		return nil
	}
	if ev, ok := s.task.EvidenceFor(s.signoffStep().ID); ok && ev.Value.DualSignatures != nil {
		return nil
	}
	cfg := s.template.DualSignature
	var missing []string
	for _, role := range []string{cfg.Role1, cfg.Role2} {
		if _, ok := s.pendingSignatures[role]; !ok {
			missing = append(missing, role)
		}
	}
	return missing
}

// SubmitSignature collects one independently captured sign-off artifact.
//
// The artifact's role must be one of the two configured roles; a later
// artifact for the same role replaces the earlier one. Once both roles are
// represented, the combined value is recorded as the authorization step's
// evidence and ready reports true. The gate does not require the two signer
// identities to differ; it enforces that both roles are represented.
func (s *Sequencer) SubmitSignature(ctx context.Context, art sop.SignatureArtifact) (ready bool, err error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	if !s.SignoffRequired() {
		return false, &evidence.ValidationError{Reason: "this procedure does not require dual sign-off"}
	}
	if err := art.Validate(); err != nil {
		return false, &evidence.ValidationError{Reason: err.Error()}
	}
	cfg := s.template.DualSignature
	if art.Role != cfg.Role1 && art.Role != cfg.Role2 {
		return false, &evidence.ValidationError{
			Reason: fmt.Sprintf("role %q is not part of this sign-off (expected %s or %s)", art.Role, cfg.Role1, cfg.Role2),
		}
	}

	if art.ID == "" {
		art.ID = uuid.NewString()
	}
	if art.SignedAt.IsZero() {
		art.SignedAt = s.now()
	}
	s.pendingSignatures[art.Role] = art
	s.appendAudit(AuditSignatureCaptured, "sign-off signature captured", map[string]any{
		"role": art.Role, "signer_id": art.SignerID,
	})

	first, ok1 := s.pendingSignatures[cfg.Role1]
	second, ok2 := s.pendingSignatures[cfg.Role2]
	if !ok1 || !ok2 {
		return false, nil
	}

	step := s.signoffStep()
	ev := sop.TaskEvidence{
		StepID:    step.ID,
		Type:      sop.EvidenceDualSignature,
		Value:     sop.DualValue(first, second),
		Timestamp: s.now(),
	}
	s.task.UpsertEvidence(ev)
	if err := s.saveDraft(ctx); err != nil {
		s.log.WithError(err).Warn("draft snapshot failed after sign-off")
	}
	return true, nil
}
