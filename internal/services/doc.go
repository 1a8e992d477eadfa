// Package services defines shared utilities consumed by the pipeline stage
// handlers and external provider clients.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, languages, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     as transient (retry via the work queue) or permanent (dead-letter and
//     mark the language sub-task failed).
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
