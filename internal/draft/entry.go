// Package draft persists in-flight execution state locally so an interrupted
// procedure can be resumed without losing captured evidence.
//
// The cache is keyed by task id and involves no server round-trip. An entry
// lives from the first evidence mutation until the execution completes
// successfully, at which point it is deleted.
package draft

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

// SchemaVersion is stamped on every saved entry.
const SchemaVersion = 1

// Entry is one persisted snapshot of an in-flight execution.
//
// Evidence and CurrentStepIndex must round-trip exactly.
type Entry struct {
	TaskID           string             `json:"task_id"`
	Evidence         []sop.TaskEvidence `json:"evidence"`
	CurrentStepIndex int                `json:"current_step_index"`
	SavedAt          time.Time          `json:"saved_at"`
	Version          int                `json:"version"`
}

// Validate checks the invariants every stored entry must satisfy.
func (e Entry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.TaskID) == "" {
		errs = append(errs, errors.New("task_id is required"))
	}
	if e.CurrentStepIndex < 0 {
		errs = append(errs, errors.New("current_step_index must be >= 0"))
	}
	if e.Evidence == nil {
		errs = append(errs, errors.New("evidence must be an array (not null)"))
	}
	if e.Version <= 0 {
		errs = append(errs, fmt.Errorf("invalid version %d", e.Version))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Store is the draft cache contract consumed by the sequencer.
//
// Load reports found=false for an absent entry rather than an error, so a
// fresh execution and a resumed one share the same construction path.
type Store interface {
	Save(entry Entry) error
	Load(taskID string) (entry Entry, found bool, err error)
	Clear(taskID string) error
	List() ([]string, error)
}
