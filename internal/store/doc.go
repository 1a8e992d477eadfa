// Package store persists tasks, the durable work queue, webhook delivery
// attempts, and review batches in a single SQLite database.
//
// Sub-task rows carry an optimistic revision counter. Writers read a row,
// apply transitions in memory, and save with the revision they read; a
// concurrent writer losing the race gets ErrRevisionConflict and reloads.
// Queue messages use claim leases with a visibility timeout so a crashed
// worker's messages become claimable again after the lease expires.
package store
