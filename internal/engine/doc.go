// Package engine implements the stepwise coordination operations.
//
// The engine turns a plan of dependency-ordered steps into claimable units
// of work that any number of worker processes can share through one SQLite
// file, with no daemon in between.
//
// ARCHITECTURE:
//
// Exclusive Transactions:
// Every mutating operation (init, reinit, claim, start, heartbeat, update,
// artifact, complete, release, reconcile) runs inside store.Update, which
// takes the database write lock up front. Inside that transaction the
// operation re-reads the rows it depends on, checks ownership and state,
// then writes. Nothing is cached between calls. Two racing claims therefore
// serialize, and the loser sees the winner's write.
//
// Read-only queries (ready, show) run in store.View snapshots and never
// block on, or block, a writer.
//
// Operation Flow:
//  1. Drift guard hashes the plan document (outside the transaction)
//  2. store.Update begins BEGIN IMMEDIATE
//  3. Plan, step and ownership are re-verified against current rows
//  4. Mutations are applied; any error rolls back everything
//
// CRITICAL PATTERNS:
//
// Ownership Wins:
// start, heartbeat, update, artifact and complete call requireOwner before
// writing. A caller whose lease expired and was taken over gets NOT_OWNER,
// never a silent overwrite.
//
// Deterministic Scheduling:
// Among ready steps the lowest step_index (document order) is claimed.
//
// Injected Time:
// All timestamps come from the Clock passed to New, so lease expiry is
// testable without sleeping.
package engine
