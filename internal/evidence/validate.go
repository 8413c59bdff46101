// Package evidence validates and normalizes per-step evidence captures.
//
// Each evidence type has independent capture rules; every routine either
// produces a normalized value or rejects with a user-facing reason. Rejected
// input never reaches the sequencer's evidence collection.
package evidence

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

// MaxEvidenceBytes is the hard ceiling on a raw photo or signature capture.
//
// The ceiling is enforced before compression is attempted: compression reduces
// storage cost but is not a substitute for bounding raw capture size.
const MaxEvidenceBytes = 10 << 20

// ValidationError is a capture rejection with a user-facing reason.
type ValidationError struct {
	StepID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.StepID != "" {
		return fmt.Sprintf("step %s: %s", e.StepID, e.Reason)
	}
	return e.Reason
}

func rejectf(stepID, format string, args ...any) error {
	return &ValidationError{StepID: stepID, Reason: fmt.Sprintf(format, args...)}
}

// Input is the raw operator capture before validation.
//
// The interpretation follows the step's evidence type: Text carries numeric
// input (as typed), free text and qr_scan tokens; Selections carries checkbox
// choices; Payload carries photo and signature bytes.
type Input struct {
	Text       string   `json:"text,omitempty"`
	Selections []string `json:"selections,omitempty"`
	Payload    []byte   `json:"payload,omitempty"`

	// RetainOriginal asks the engine to keep the raw payload uncompressed.
	// Honored only when the caller holds the retain-original capability.
	RetainOriginal bool `json:"retain_original,omitempty"`
}

// Validate normalizes in against the step's declared evidence type.
func Validate(step sop.SOPStep, in Input) (sop.EvidenceValue, error) {
	switch step.EvidenceType {
	case sop.EvidenceNumeric:
		return Numeric(step, in.Text)
	case sop.EvidenceCheckbox:
		return Checkbox(step, in.Selections)
	case sop.EvidenceText:
		return Text(step, in.Text)
	case sop.EvidenceQRScan:
		return QRScan(step, in.Text)
	case sop.EvidencePhoto, sop.EvidenceSignature:
		return Binary(step, in.Payload)
	case sop.EvidenceDualSignature:
		return sop.EvidenceValue{}, rejectf(step.ID, "dual signature evidence is captured through the sign-off gate")
	default:
		return sop.EvidenceValue{}, rejectf(step.ID, "step does not declare an evidence type")
	}
}

// Numeric parses input as a floating-point number and enforces the step's
// configured range.
func Numeric(step sop.SOPStep, input string) (sop.EvidenceValue, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return sop.EvidenceValue{}, rejectf(step.ID, "a numeric value is required")
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return sop.EvidenceValue{}, rejectf(step.ID, "%q is not a valid number", raw)
	}
	if step.MinValue != nil && n < *step.MinValue {
		return sop.EvidenceValue{}, rejectf(step.ID, "value %v is below the minimum %v", n, *step.MinValue)
	}
	if step.MaxValue != nil && n > *step.MaxValue {
		return sop.EvidenceValue{}, rejectf(step.ID, "value %v exceeds the maximum %v", n, *step.MaxValue)
	}
	return sop.NumberValue(n), nil
}

// Checkbox requires a non-empty subset of the step's declared options.
//
// The normalized selection follows the declared option order, so the recorded
// value is independent of the order the operator ticked the boxes in.
func Checkbox(step sop.SOPStep, selected []string) (sop.EvidenceValue, error) {
	if len(selected) == 0 {
		return sop.EvidenceValue{}, rejectf(step.ID, "at least one option must be selected")
	}

	chosen := make(map[string]bool, len(selected))
	for _, s := range selected {
		chosen[s] = true
	}
	normalized := make([]string, 0, len(chosen))
	for _, opt := range step.Options {
		if chosen[opt] {
			normalized = append(normalized, opt)
			delete(chosen, opt)
		}
	}
	if len(chosen) != 0 {
		unknown := make([]string, 0, len(chosen))
		for _, s := range selected {
			if chosen[s] {
				unknown = append(unknown, s)
				chosen[s] = false
			}
		}
		return sop.EvidenceValue{}, rejectf(step.ID, "unknown options selected: %s", strings.Join(unknown, ", "))
	}
	return sop.SelectionsValue(normalized), nil
}

// Text requires a non-empty string within the step's configured length bounds.
func Text(step sop.SOPStep, input string) (sop.EvidenceValue, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return sop.EvidenceValue{}, rejectf(step.ID, "text evidence must not be empty")
	}
	if step.MinLength != nil && len(text) < *step.MinLength {
		return sop.EvidenceValue{}, rejectf(step.ID, "text must be at least %d characters", *step.MinLength)
	}
	if step.MaxLength != nil && len(text) > *step.MaxLength {
		return sop.EvidenceValue{}, rejectf(step.ID, "text must be at most %d characters", *step.MaxLength)
	}
	return sop.TextValue(sop.EvidenceText, text), nil
}

// QRScan accepts an opaque scanned token; only non-emptiness is enforced.
func QRScan(step sop.SOPStep, token string) (sop.EvidenceValue, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return sop.EvidenceValue{}, rejectf(step.ID, "a scanned code is required")
	}
	return sop.TextValue(sop.EvidenceQRScan, token), nil
}

// Binary accepts a photo or signature payload under the raw-size ceiling.
func Binary(step sop.SOPStep, payload []byte) (sop.EvidenceValue, error) {
	if len(payload) == 0 {
		return sop.EvidenceValue{}, rejectf(step.ID, "a captured file is required")
	}
	if len(payload) > MaxEvidenceBytes {
		return sop.EvidenceValue{}, rejectf(step.ID, "capture is %d bytes, exceeding the %d byte limit", len(payload), MaxEvidenceBytes)
	}
	return sop.BytesValue(step.EvidenceType, payload), nil
}
