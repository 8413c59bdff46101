package sop

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an execution record.
type TaskStatus string

const (
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskSkipped    TaskStatus = "skipped"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is the mutable execution record of one procedure instance.
//
// It is created when an operator begins a procedure, mutated exclusively by
// the sequencer during execution, and frozen once completion resolves.
type Task struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`

	// CurrentStepIndex is always clamped to [0, len(steps)-1].
	CurrentStepIndex int `json:"current_step_index"`

	Evidence []TaskEvidence `json:"evidence"`

	// EvidenceCompressed is true when any contained evidence item is
	// compressed, so downstream reporting never re-scans the collection.
	EvidenceCompressed bool `json:"evidence_compressed"`

	Status      TaskStatus `json:"status"`
	StartedBy   string     `json:"started_by,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates an in-progress execution record for the given template.
func NewTask(templateID, startedBy string) *Task {
	return &Task{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Status:     TaskInProgress,
		StartedBy:  startedBy,
		StartedAt:  time.Now().UTC(),
		Evidence:   []TaskEvidence{},
	}
}

// UpsertEvidence records ev, replacing any earlier entry for the same step.
func (t *Task) UpsertEvidence(ev TaskEvidence) {
	for i := range t.Evidence {
		if t.Evidence[i].StepID == ev.StepID {
			t.Evidence[i] = ev
			return
		}
	}
	t.Evidence = append(t.Evidence, ev)
}

// EvidenceFor returns the recorded evidence for a step, if any.
func (t *Task) EvidenceFor(stepID string) (TaskEvidence, bool) {
	for _, ev := range t.Evidence {
		if ev.StepID == stepID {
			return ev, true
		}
	}
	return TaskEvidence{}, false
}
