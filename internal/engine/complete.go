package engine

import (
	"context"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

// missingRequiredTitles recomputes, over the full step list rather than just
// the visited steps, which required steps still lack evidence. This catches
// required steps a conditional branch jumped past.
func (s *Sequencer) missingRequiredTitles() []string {
	var titles []string
	for _, step := range s.template.Steps {
		if !step.EvidenceRequired {
			continue
		}
		if _, ok := s.task.EvidenceFor(step.ID); !ok {
			titles = append(titles, step.Title)
		}
	}
	return titles
}

// Complete finalizes the execution. It is available only at the final step:
// the dual sign-off gate runs first when configured, then the completion
// validator, then the external completion callback. The draft cache entry is
// cleared exactly once, after the callback resolves; any rejection leaves the
// execution state untouched so the operator can retry without re-entering
// evidence.
func (s *Sequencer) Complete(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	if !s.AtFinalStep() {
		return ErrNotAtFinalStep
	}

	if missing := s.MissingRoles(); len(missing) != 0 {
		s.appendAudit(AuditCompletionRejected, "dual sign-off incomplete", map[string]any{
			"missing_roles": missing,
		})
		return &SignaturesMissingError{Roles: missing}
	}

	if titles := s.missingRequiredTitles(); len(titles) != 0 {
		s.appendAudit(AuditCompletionRejected, "required evidence missing", map[string]any{
			"missing_steps": titles,
		})
		return &MissingEvidenceError{Titles: titles}
	}

	// Navigation is disabled while the callback is in flight so a slow
	// backend cannot be double-submitted.
	s.completing = true
	err := s.onComplete(ctx, s.Evidence())
	s.completing = false
	if err != nil {
		s.appendAudit(AuditCompletionRejected, "completion callback failed", map[string]any{
			"error": err.Error(),
		})
		return &CompletionError{TaskID: s.task.ID, Cause: err}
	}

	s.task.Status = sop.TaskCompleted
	completedAt := s.now()
	s.task.CompletedAt = &completedAt

	// The draft entry is cleared only now, never on failure and never
	// speculatively, so interrupted work stays resumable.
	if err := s.drafts.Clear(s.task.ID); err != nil {
		s.log.WithError(err).Warn("clearing draft cache entry failed")
	}
	s.appendAudit(AuditCompleted, "execution completed", nil)
	return nil
}
