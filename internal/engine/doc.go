// Package engine walks an operator through an ordered procedure template.
//
// The Sequencer owns the current step index and the accumulated evidence of
// one execution. It validates captures per evidence type, compresses
// byte-heavy payloads best-effort, re-routes the sequence through conditional
// branching rules, gates terminal completion behind dual sign-off when
// configured, and snapshots every mutation to the draft cache so an
// interrupted execution resumes where it left off.
//
// The engine is single-threaded and UI-driven: a Sequencer must not be used
// from multiple goroutines concurrently.
package engine
