// Package task defines the pipeline's data model and the pure state machine
// that advances a task and its per-language sub-tasks through translation,
// automated verification, human review iterations, and finalization.
//
// Transition functions mutate records in memory only; persistence and event
// emission are the caller's concern. Illegal transitions indicate programming
// errors and are returned as ErrIllegalTransition so tests can assert on them.
package task
