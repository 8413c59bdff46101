package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/compress"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/draft"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/evidence"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

// PermissionRetainOriginal is the capability that lets an operator keep the
// raw capture instead of the compressed representation.
const PermissionRetainOriginal = "evidence:retain-original"

// PermissionFunc answers capability checks. The engine never implements role
// logic itself.
type PermissionFunc func(permission string) bool

// CompleteFunc hands the final evidence collection to the external
// persistence/sync backend. It is opaque and may fail.
type CompleteFunc func(ctx context.Context, evidence []sop.TaskEvidence) error

// SaveDraftFunc optionally mirrors draft snapshots to an external backend in
// addition to the local draft cache.
type SaveDraftFunc func(ctx context.Context, evidence []sop.TaskEvidence, stepIndex int) error

// Clock supplies timestamps; tests substitute a fixed one.
type Clock func() time.Time

// Options wires a Sequencer. All external mutable dependencies are injected
// here, never reached through ambient state.
type Options struct {
	Task     *sop.Task
	Template *sop.SOPTemplate

	// Drafts is the local draft cache. Defaults to an in-memory store.
	Drafts draft.Store

	// Can answers permission checks. Defaults to denying everything.
	Can PermissionFunc

	// OnComplete is required; it receives the evidence on terminal completion.
	OnComplete CompleteFunc

	// OnSaveDraft optionally mirrors snapshots to an external backend.
	OnSaveDraft SaveDraftFunc

	// Compression overrides the default pipeline; tests lower its threshold.
	Compression *compress.Pipeline

	Clock  Clock
	Logger *logrus.Entry
}

// Sequencer is the step state machine for one execution.
//
// Not safe for concurrent use: execution is single-threaded and UI-driven.
type Sequencer struct {
	task     *sop.Task
	template *sop.SOPTemplate

	drafts      draft.Store
	can         PermissionFunc
	onComplete  CompleteFunc
	onSaveDraft SaveDraftFunc
	compressor  *compress.Pipeline
	now         Clock
	log         *logrus.Entry

	// pendingSignatures holds per-role sign-off artifacts until both roles
	// are represented and the combined value is recorded as evidence.
	pendingSignatures map[string]sop.SignatureArtifact

	completing bool
	resumed    bool
	offline    bool

	audit []AuditEvent
}

// New builds a Sequencer, hydrating evidence and step index from the draft
// cache when a snapshot exists for the task. The hydrated index is clamped
// into range, so a corrupted persisted index can never strand the execution.
func New(opts Options) (*Sequencer, error) {
	if opts.Task == nil {
		return nil, errors.New("task is required")
	}
	if opts.Template == nil {
		return nil, errors.New("template is required")
	}
	if opts.OnComplete == nil {
		return nil, errors.New("onComplete is required")
	}
	if err := opts.Template.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		log = logrus.NewEntry(silent)
	}
	log = log.WithField("task_id", opts.Task.ID)

	drafts := opts.Drafts
	if drafts == nil {
		drafts = draft.NewMemStore()
	}
	can := opts.Can
	if can == nil {
		can = func(string) bool { return false }
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	compressor := opts.Compression
	if compressor == nil {
		compressor = compress.NewPipeline()
	}

	s := &Sequencer{
		task:              opts.Task,
		template:          opts.Template,
		drafts:            drafts,
		can:               can,
		onComplete:        opts.OnComplete,
		onSaveDraft:       opts.OnSaveDraft,
		compressor:        compressor,
		now:               now,
		log:               log,
		pendingSignatures: make(map[string]sop.SignatureArtifact),
	}

	for _, msg := range BranchDiagnostics(opts.Template) {
		log.WithField("template_id", opts.Template.ID).Warn(msg)
	}

	s.hydrate()
	s.task.CurrentStepIndex = sop.ClampIndex(s.task.CurrentStepIndex, len(s.template.Steps))
	return s, nil
}

// hydrate restores evidence and step index from the draft cache. The cached
// snapshot takes precedence over whatever the caller passed in as the task's
// persisted state.
func (s *Sequencer) hydrate() {
	entry, found, err := s.drafts.Load(s.task.ID)
	if err != nil {
		// A damaged draft must not strand the execution; fall back to the
		// task's own persisted state.
		s.log.WithError(err).Warn("draft cache read failed; starting from task state")
		return
	}
	if !found {
		return
	}
	s.task.Evidence = entry.Evidence
	s.task.CurrentStepIndex = entry.CurrentStepIndex
	s.task.EvidenceCompressed = false
	for _, ev := range entry.Evidence {
		if ev.Compressed {
			s.task.EvidenceCompressed = true
			break
		}
	}
	s.resumed = true
	s.appendAudit(AuditResumed, "execution resumed from draft", map[string]any{
		"step_index": entry.CurrentStepIndex,
		"evidence":   len(entry.Evidence),
	})
}

// CurrentStep returns the active step.
func (s *Sequencer) CurrentStep() sop.SOPStep {
	return s.template.Steps[s.task.CurrentStepIndex]
}

// StepIndex returns the active step index.
func (s *Sequencer) StepIndex() int { return s.task.CurrentStepIndex }

// StepCount returns the number of steps in the template.
func (s *Sequencer) StepCount() int { return len(s.template.Steps) }

// AtFinalStep reports whether the execution sits at the last index, where
// completion becomes available.
func (s *Sequencer) AtFinalStep() bool {
	return s.task.CurrentStepIndex == len(s.template.Steps)-1
}

// Status returns the task lifecycle status.
func (s *Sequencer) Status() sop.TaskStatus { return s.task.Status }

// TaskID returns the id of the execution record.
func (s *Sequencer) TaskID() string { return s.task.ID }

// TemplateID returns the id of the procedure document being executed.
func (s *Sequencer) TemplateID() string { return s.template.ID }

// Resumed reports whether construction hydrated state from the draft cache.
func (s *Sequencer) Resumed() bool { return s.resumed }

// Evidence returns a copy of the accumulated evidence collection.
func (s *Sequencer) Evidence() []sop.TaskEvidence {
	out := make([]sop.TaskEvidence, len(s.task.Evidence))
	copy(out, s.task.Evidence)
	return out
}

// EvidenceFor returns the recorded evidence for a step, if any.
func (s *Sequencer) EvidenceFor(stepID string) (sop.TaskEvidence, bool) {
	return s.task.EvidenceFor(stepID)
}

// CanRetainOriginal reports whether the operator may keep raw captures
// uncompressed. The decision belongs to the injected permission check.
func (s *Sequencer) CanRetainOriginal() bool {
	return s.can(PermissionRetainOriginal)
}

// SetOffline records the advisory connectivity flag. It changes no validation
// or navigation behavior; the engine always operates against local state.
func (s *Sequencer) SetOffline(offline bool) { s.offline = offline }

// Offline reports the advisory connectivity flag.
func (s *Sequencer) Offline() bool { return s.offline }

// CompressionSavings reports how many evidence items were compressed and the
// total bytes saved, for summary reporting.
func (s *Sequencer) CompressionSavings() (items, bytes int) {
	for _, ev := range s.task.Evidence {
		if ev.Compressed {
			items++
			bytes += ev.OriginalSize - ev.CompressedSize
		}
	}
	return items, bytes
}

func (s *Sequencer) guard() error {
	if s.completing {
		return ErrCompletionInFlight
	}
	if s.task.Status != sop.TaskInProgress {
		return ErrTaskFinalized
	}
	return nil
}

// SubmitResult describes what a capture did to the execution.
type SubmitResult struct {
	Evidence sop.TaskEvidence

	// Branched is set when a conditional rule redirected the sequence;
	// BranchedTo then names the destination step id.
	Branched   bool
	BranchedTo string

	// Advanced is set when the index moved (by branch or default advance).
	Advanced bool

	// DraftError surfaces a failed draft snapshot. It never blocks the
	// capture: evidence is already recorded in memory when it is set.
	DraftError error
}

// SubmitEvidence validates, compresses and records a capture for the current
// step, then routes the sequence: a matching conditional rule overrides the
// default advance-by-one.
//
// Evidence is fully recorded in the in-memory task before any routing
// decision is evaluated. Submitting twice for one step replaces the earlier
// entry.
func (s *Sequencer) SubmitEvidence(ctx context.Context, in evidence.Input) (SubmitResult, error) {
	if err := s.guard(); err != nil {
		return SubmitResult{}, err
	}
	step := s.CurrentStep()
	if step.EvidenceType == sop.EvidenceDualSignature {
		return SubmitResult{}, &evidence.ValidationError{StepID: step.ID, Reason: "dual signature evidence is captured through SubmitSignature"}
	}

	value, err := evidence.Validate(step, in)
	if err != nil {
		return SubmitResult{}, err
	}

	ev := sop.TaskEvidence{
		StepID:    step.ID,
		Type:      step.EvidenceType,
		Value:     value,
		Timestamp: s.now(),
	}
	s.applyCompression(&ev, in.RetainOriginal)

	s.task.UpsertEvidence(ev)
	if ev.Compressed {
		s.task.EvidenceCompressed = true
	}
	s.appendAudit(AuditEvidenceCaptured, "evidence captured", map[string]any{
		"step_id":    step.ID,
		"type":       string(step.EvidenceType),
		"compressed": ev.Compressed,
	})

	res := SubmitResult{Evidence: ev}
	res.DraftError = s.saveDraft(ctx)

	s.route(ctx, step, value, &res)
	return res, nil
}

// applyCompression runs the best-effort pipeline on byte-heavy captures.
// Failure to shrink is not an error; the original bytes are stored.
func (s *Sequencer) applyCompression(ev *sop.TaskEvidence, retainOriginal bool) {
	if ev.Type != sop.EvidencePhoto && ev.Type != sop.EvidenceSignature {
		return
	}
	if retainOriginal && s.CanRetainOriginal() {
		return
	}
	kind := compress.KindSignature
	if ev.Type == sop.EvidencePhoto {
		kind = compress.KindPhoto
	}
	res := s.compressor.Compress(ev.Value.Bytes, kind)
	if !res.Applied {
		return
	}
	ev.Value.Bytes = res.Data
	ev.Compressed = true
	ev.CompressionType = res.CompressionType
	ev.OriginalSize = res.OriginalSize
	ev.CompressedSize = res.CompressedSize
}

// route decides where the sequence goes after a capture on step.
func (s *Sequencer) route(ctx context.Context, step sop.SOPStep, value sop.EvidenceValue, res *SubmitResult) {
	if nextID, ok := EvaluateBranch(step, value); ok {
		idx, found := s.template.StepIndexByID(nextID)
		switch {
		case !found:
			// A rule pointing at a nonexistent step is a template
			// configuration error. Degrade to the default advance rather
			// than producing an out-of-range state.
			s.log.WithFields(logrus.Fields{"step_id": step.ID, "next_step_id": nextID}).
				Warn("branch rule points at unknown step; falling back to linear advance")
			s.appendAudit(AuditBranchRefused, "branch destination does not exist", map[string]any{
				"step_id": step.ID, "next_step_id": nextID,
			})
		case idx == s.task.CurrentStepIndex:
			s.log.WithFields(logrus.Fields{"step_id": step.ID}).
				Warn("branch rule points back at the current step; falling back to linear advance")
			s.appendAudit(AuditBranchRefused, "branch destination is the current step", map[string]any{
				"step_id": step.ID,
			})
		default:
			s.task.CurrentStepIndex = idx
			res.Branched = true
			res.BranchedTo = nextID
			res.Advanced = true
			s.appendAudit(AuditBranchTaken, "conditional rule redirected the sequence", map[string]any{
				"from": step.ID, "to": nextID,
			})
			if err := s.saveDraft(ctx); err != nil && res.DraftError == nil {
				res.DraftError = err
			}
			return
		}
	}

	if moved, _ := s.advanceOne(); moved {
		res.Advanced = true
		if err := s.saveDraft(ctx); err != nil && res.DraftError == nil {
			res.DraftError = err
		}
	}
}

// Skip records an explicit skip-with-reason for the current step and performs
// the default advance. Only steps whose evidence is not required may be
// skipped, and the reason must be non-empty.
func (s *Sequencer) Skip(ctx context.Context, reason string) (SubmitResult, error) {
	if err := s.guard(); err != nil {
		return SubmitResult{}, err
	}
	step := s.CurrentStep()
	if step.EvidenceRequired {
		return SubmitResult{}, ErrSkipNotAllowed
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return SubmitResult{}, &evidence.ValidationError{StepID: step.ID, Reason: "a skip reason is required"}
	}

	evType := step.EvidenceType
	if evType == "" {
		evType = sop.EvidenceText
	}
	ev := sop.TaskEvidence{
		StepID:     step.ID,
		Type:       evType,
		Value:      sop.EvidenceValue{Kind: evType},
		Timestamp:  s.now(),
		SkipReason: reason,
	}
	s.task.UpsertEvidence(ev)
	s.appendAudit(AuditStepSkipped, "step skipped", map[string]any{
		"step_id": step.ID, "reason": reason,
	})

	res := SubmitResult{Evidence: ev}
	res.DraftError = s.saveDraft(ctx)
	if moved, _ := s.advanceOne(); moved {
		res.Advanced = true
		if err := s.saveDraft(ctx); err != nil && res.DraftError == nil {
			res.DraftError = err
		}
	}
	return res, nil
}

// Advance moves to the next step. It is blocked while the current step still
// requires evidence, and a no-op at the final index.
func (s *Sequencer) Advance(ctx context.Context) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	step := s.CurrentStep()
	if _, have := s.task.EvidenceFor(step.ID); step.EvidenceRequired && !have {
		return false, ErrEvidenceRequired
	}
	moved, _ := s.advanceOne()
	if moved {
		s.appendAudit(AuditAdvanced, "advanced to next step", map[string]any{
			"step_index": s.task.CurrentStepIndex,
		})
		if err := s.saveDraft(ctx); err != nil {
			s.log.WithError(err).Warn("draft snapshot failed after advance")
		}
	}
	return moved, nil
}

// Retreat moves back one step. Re-visiting a completed step never erases its
// evidence. A no-op at index zero.
func (s *Sequencer) Retreat(ctx context.Context) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	if s.task.CurrentStepIndex == 0 {
		return false, nil
	}
	s.task.CurrentStepIndex--
	s.appendAudit(AuditRetreated, "returned to previous step", map[string]any{
		"step_index": s.task.CurrentStepIndex,
	})
	if err := s.saveDraft(ctx); err != nil {
		s.log.WithError(err).Warn("draft snapshot failed after retreat")
	}
	return true, nil
}

func (s *Sequencer) advanceOne() (bool, error) {
	if s.AtFinalStep() {
		return false, nil
	}
	s.task.CurrentStepIndex++
	return true, nil
}

// saveDraft snapshots the execution to the draft cache and the optional
// external mirror. Failures are surfaced but never block navigation.
func (s *Sequencer) saveDraft(ctx context.Context) error {
	entry := draft.Entry{
		TaskID:           s.task.ID,
		Evidence:         s.Evidence(),
		CurrentStepIndex: s.task.CurrentStepIndex,
		SavedAt:          s.now(),
		Version:          draft.SchemaVersion,
	}
	if entry.Evidence == nil {
		entry.Evidence = []sop.TaskEvidence{}
	}

	var errs []error
	if err := s.drafts.Save(entry); err != nil {
		errs = append(errs, err)
	}
	if s.onSaveDraft != nil {
		if err := s.onSaveDraft(ctx, entry.Evidence, entry.CurrentStepIndex); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	s.log.WithError(err).Warn("draft snapshot failed")
	s.appendAudit(AuditDraftSaveFailed, "draft snapshot failed", map[string]any{
		"error": err.Error(),
	})
	return err
}
