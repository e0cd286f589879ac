// Package store provides SQLite-backed durable storage for stepwise plans.
//
// The store holds the only authoritative copy of coordination state:
//   - Plans: one row per coordination session, with the drift baseline hash
//   - Steps: flat units of work with ownership and lease columns
//   - Step dependencies: DAG edges between steps of one plan
//   - Checklist items: per-step tasks, tests and checkpoints
//   - Artifacts: append-only audit breadcrumbs
//
// # Concurrency
//
// A Store keeps two connection pools on the same file:
//   - a writer pool opened with _txlock=immediate, so every Update runs in a
//     BEGIN IMMEDIATE transaction; at most one such transaction executes at
//     a time across all processes sharing the file
//   - a reader pool opened with _query_only, used by View; in WAL mode
//     readers see a consistent snapshot and do not block on the writer
//
// A writer that cannot take the lock within the busy timeout fails with an
// ir.CodeBusy error. Nothing is cached between calls: every operation
// re-reads state inside its own transaction.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout: Wait for locks (default 5 seconds)
//   - foreign_keys=ON: Enforce referential integrity
//
// The file must live on a local filesystem with working POSIX locks.
package store
