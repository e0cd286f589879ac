// Package ir provides the shared record types for stepwise coordination.
//
// This package contains type definitions, the error taxonomy and plan hashing.
// All other internal packages import ir; ir imports nothing internal. This
// keeps ir the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Steps are flat: grouping is expressed only through dependency edges
//   - Timestamps are UTC with millisecond precision (the store's resolution)
//   - All JSON tags use snake_case
//   - A plan's hash is fixed at initialization and is the drift baseline
package ir
