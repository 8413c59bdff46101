// Package sop defines the domain model for standard operating procedures.
//
// It is intentionally split into:
//   - Immutable procedure definition (SOPTemplate): ordered steps, branching
//     rules and sign-off configuration, validated once at load time
//   - Mutable execution record (Task): the current step index and the
//     accumulated evidence for one procedure instance
//
// Steps are addressed by slice index derived from their declared order; the
// model never re-sorts steps at runtime.
package sop
