package sop

import (
	"errors"
	"strings"
	"time"
)

// SignatureArtifact is one independently captured sign-off.
type SignatureArtifact struct {
	ID         string    `json:"id"`
	SignerID   string    `json:"signer_id"`
	SignerName string    `json:"signer_name"`
	Role       string    `json:"role"`
	Payload    []byte    `json:"payload"`
	SignedAt   time.Time `json:"signed_at"`
}

// Validate checks the artifact carries an identity, a role and a payload.
func (a SignatureArtifact) Validate() error {
	var errs []error
	if strings.TrimSpace(a.SignerID) == "" {
		errs = append(errs, errors.New("signer_id is required"))
	}
	if strings.TrimSpace(a.Role) == "" {
		errs = append(errs, errors.New("role is required"))
	}
	if len(a.Payload) == 0 {
		errs = append(errs, errors.New("payload is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// DualSignatureValue is the combined artifact recorded once both sign-off
// roles have signed.
type DualSignatureValue struct {
	Signature1 SignatureArtifact `json:"signature1"`
	Signature2 SignatureArtifact `json:"signature2"`
}

// EvidenceValue is the tagged variant carried by TaskEvidence.
//
// Exactly one payload field is meaningful, selected by Kind. Keeping the
// variant tagged (instead of an untyped value) preserves type safety across
// validation, compression and branch evaluation, and makes the draft-cache
// JSON round-trip exact.
type EvidenceValue struct {
	Kind EvidenceType `json:"kind"`

	// Number carries numeric captures.
	Number float64 `json:"number,omitempty"`
	// Selections carries checkbox captures, normalized to declared option order.
	Selections []string `json:"selections,omitempty"`
	// Text carries free-text and qr_scan captures.
	Text string `json:"text,omitempty"`
	// Bytes carries photo and signature payloads, possibly compressed.
	Bytes []byte `json:"bytes,omitempty"`
	// DualSignatures carries the combined terminal sign-off.
	DualSignatures *DualSignatureValue `json:"dual_signatures,omitempty"`
}

// NumberValue builds a numeric evidence value.
func NumberValue(n float64) EvidenceValue {
	return EvidenceValue{Kind: EvidenceNumeric, Number: n}
}

// SelectionsValue builds a checkbox evidence value.
func SelectionsValue(selected []string) EvidenceValue {
	return EvidenceValue{Kind: EvidenceCheckbox, Selections: selected}
}

// TextValue builds a free-text or qr_scan evidence value.
func TextValue(kind EvidenceType, text string) EvidenceValue {
	return EvidenceValue{Kind: kind, Text: text}
}

// BytesValue builds a photo or signature evidence value.
func BytesValue(kind EvidenceType, payload []byte) EvidenceValue {
	return EvidenceValue{Kind: kind, Bytes: payload}
}

// DualValue builds the combined dual-signature evidence value.
func DualValue(first, second SignatureArtifact) EvidenceValue {
	return EvidenceValue{
		Kind:           EvidenceDualSignature,
		DualSignatures: &DualSignatureValue{Signature1: first, Signature2: second},
	}
}

// TaskEvidence is one captured artifact attesting that a step was performed.
//
// The live collection holds at most one entry per step id; a later capture for
// the same step replaces the earlier one.
type TaskEvidence struct {
	StepID    string        `json:"step_id"`
	Type      EvidenceType  `json:"type"`
	Value     EvidenceValue `json:"value"`
	Timestamp time.Time     `json:"timestamp"`

	Compressed      bool   `json:"compressed"`
	CompressionType string `json:"compression_type,omitempty"`
	OriginalSize    int    `json:"original_size,omitempty"`
	CompressedSize  int    `json:"compressed_size,omitempty"`

	// SkipReason is set only for steps explicitly skipped with a reason.
	SkipReason string `json:"skip_reason,omitempty"`
}

// Skipped reports whether this entry records an explicit skip rather than a
// real capture.
func (e TaskEvidence) Skipped() bool { return e.SkipReason != "" }
