// Package harness runs YAML coordination scenarios against the real engine.
//
// A scenario names a plan document and a flow of operations performed by
// one or more workers. Each operation runs through engine.Engine on a
// private SQLite file, with a manual clock and sequential owner ids, so a
// run is fully deterministic and its trace can be compared to a golden file.
//
// # Scenario Format
//
//	name: dependent_steps
//	description: "S2 waits for S1"
//	plan: ../plans/two_step.yaml
//	flow:
//	  - op: init
//	  - op: claim
//	    owner: A
//	    expect:
//	      result: { step: S1 }
//	  - op: claim
//	    owner: B
//	    expect:
//	      error: NO_READY_STEPS
//	  - op: advance
//	    by: 31m
//	assertions:
//	  - type: step_status
//	    step: S1
//	    status: claimed
//	  - type: trace_count
//	    op: claim
//	    outcome: ok
//	    count: 1
//
// The plan path is relative to the scenario file. Its base name becomes the
// plan key in the store.
//
// # Operations
//
// init, reinit, claim, start, heartbeat, update, artifact, complete,
// release, ready, show and reconcile call the engine operation of the same
// name. advance moves the clock. edit_plan replaces the in-memory plan
// document, which is how scenarios provoke drift.
//
// A step without an expect clause must succeed. expect.error names the
// error code the step must fail with; expect.result is matched as a subset
// of the operation's JSON result.
//
// # Assertion Types
//
//   - step_status: a step's final status, and optionally its holder
//   - plan_status: the plan's final status
//   - item_status: one checklist item's final status, addressed as kind#ordinal
//   - trace_count: how many times an operation ran with a given outcome
//   - trace_order: successful operations occurred in this order
package harness
