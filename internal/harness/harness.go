package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/planfile"
	"github.com/roach88/stepwise/internal/store"
	"github.com/roach88/stepwise/internal/testutil"
)

// Harness executes one scenario against a private store.
// It runs with a manual clock and sequential owner ids.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	docs   *documents
	plan   string
	logger *slog.Logger
}

// documents is the in-memory plan document the engine's drift guard reads.
type documents struct {
	mu   sync.Mutex
	plan string
	src  []byte
}

func (d *documents) ReadDocument(plan string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if plan != d.plan || d.src == nil {
		return nil, fmt.Errorf("open %s: %w", plan, os.ErrNotExist)
	}
	return d.src, nil
}

func (d *documents) get() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src
}

func (d *documents) set(src []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.src = src
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh SQLite file in a temporary directory
//  2. Load the plan document into the in-memory document source
//  3. Execute flow steps with expect validation
//  4. Capture the plan's final state and evaluate assertions
//
// A returned error means the scenario could not be run at all; failed
// expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	src, err := scenarioDocument(scenario)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "stepwise-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, uuid.NewString()+".db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewManualClock(time.Time{})
	docs := &documents{plan: scenario.PlanKey(), src: src}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios

	h := &Harness{
		store: st,
		engine: engine.New(st,
			engine.WithClock(clock),
			engine.WithDocumentSource(docs),
			engine.WithOwnerGenerator(testutil.NewSequentialOwners("")),
			engine.WithLogger(logger),
		),
		clock:  clock,
		docs:   docs,
		plan:   scenario.PlanKey(),
		logger: logger,
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	final, err := h.engine.Show(ctx, h.plan)
	switch {
	case err == nil:
		result.Final = &final
	case ir.CodeOf(err) != ir.CodePlanNotFound:
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func scenarioDocument(s *Scenario) ([]byte, error) {
	if s.Document != "" {
		return []byte(s.Document), nil
	}
	src, err := os.ReadFile(s.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan document: %w", err)
	}
	return src, nil
}

// executeStep runs one flow step, records it in the trace and checks its
// expect clause.
func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) {
	ev := TraceEvent{
		Op:    step.Op,
		Step:  step.Step,
		Owner: step.Owner,
		Args:  step.args(),
	}

	out, err := h.invoke(ctx, step)
	if err != nil {
		ev.Outcome = string(ir.CodeOf(err))
		if ev.Outcome == "" {
			ev.Outcome = outcomeUncoded
		}
		ev.Error = err.Error()
	} else {
		ev.Outcome = OutcomeOK
		if claim, ok := out.(engine.ClaimResult); ok {
			ev.Step = claim.Step
			ev.Owner = claim.Owner
		}
		if ev.Result, err = jsonValue(out); err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: %v", index, step.Op, err))
		}
	}
	result.addEvent(ev)

	h.logger.Debug("scenario step", "index", index, "op", step.Op, "outcome", ev.Outcome)

	for _, msg := range checkExpect(ev, step.Expect) {
		result.AddError(fmt.Sprintf("flow[%d] %s: %s", index, step.Op, msg))
	}
}

// invoke dispatches one operation to the engine.
func (h *Harness) invoke(ctx context.Context, step FlowStep) (any, error) {
	var lease time.Duration
	if step.Lease != "" {
		d, err := time.ParseDuration(step.Lease)
		if err != nil {
			return nil, ir.NewInvalidArgumentError(fmt.Sprintf("invalid lease %q", step.Lease))
		}
		lease = d
	}

	switch step.Op {
	case OpInit:
		src := h.docs.get()
		parsed, err := planfile.Parse(h.plan, src)
		if err != nil {
			return nil, err
		}
		return h.engine.Init(ctx, h.plan, src, parsed)

	case OpReinit:
		src := h.docs.get()
		parsed, err := planfile.Parse(h.plan, src)
		if err != nil {
			return nil, err
		}
		return h.engine.Reinit(ctx, engine.ReinitRequest{Plan: h.plan, Source: src, Parsed: parsed, Force: step.Force})

	case OpClaim:
		return h.engine.Claim(ctx, engine.ClaimRequest{Plan: h.plan, Owner: step.Owner, Lease: lease, Force: step.Force})

	case OpStart:
		return h.engine.Start(ctx, h.plan, step.Step, step.Owner)

	case OpHeartbeat:
		return h.engine.Heartbeat(ctx, h.plan, step.Step, step.Owner, lease)

	case OpUpdate:
		return h.engine.UpdateChecklist(ctx, engine.ChecklistRequest{
			Plan:  h.plan,
			Step:  step.Step,
			Owner: step.Owner,
			Items: step.Items,
		})

	case OpArtifact:
		return h.engine.RecordArtifact(ctx, engine.ArtifactRequest{
			Plan:    h.plan,
			Step:    step.Step,
			Owner:   step.Owner,
			Kind:    step.Kind,
			Summary: step.Summary,
		})

	case OpComplete:
		return h.engine.Complete(ctx, engine.CompleteRequest{
			Plan:   h.plan,
			Step:   step.Step,
			Owner:  step.Owner,
			Commit: step.Commit,
			Force:  step.Force,
			Reason: step.Reason,
		})

	case OpRelease:
		return h.engine.Release(ctx, engine.ReleaseRequest{Plan: h.plan, Step: step.Step, Owner: step.Owner, Admin: step.Admin})

	case OpReady:
		return h.engine.Ready(ctx, h.plan)

	case OpShow:
		return h.engine.Show(ctx, h.plan)

	case OpReconcile:
		return h.engine.Reconcile(ctx, h.plan, step.Entries, step.Force)

	case OpAdvance:
		d, err := time.ParseDuration(step.By)
		if err != nil || d <= 0 {
			return nil, ir.NewInvalidArgumentError(fmt.Sprintf("advance requires a positive duration, got %q", step.By))
		}
		return map[string]any{"now": h.clock.Advance(d)}, nil

	case OpEditPlan:
		h.docs.set([]byte(step.Source))
		return map[string]any{"hash": ir.PlanHash([]byte(step.Source))}, nil
	}

	return nil, ir.NewInvalidArgumentError(fmt.Sprintf("unknown op %q", step.Op))
}

// args lists the step's non-empty parameters for the trace.
func (f FlowStep) args() map[string]any {
	args := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			args[k] = v
		}
	}
	put("lease", f.Lease)
	put("commit", f.Commit)
	put("reason", f.Reason)
	put("kind", f.Kind)
	put("by", f.By)
	if f.Force {
		args["force"] = true
	}
	if f.Admin {
		args["admin"] = true
	}
	if len(f.Items) > 0 {
		args["items"] = len(f.Items)
	}
	if len(f.Entries) > 0 {
		args["entries"] = len(f.Entries)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// jsonValue converts an operation result to its JSON form, so expectations
// see the same field names the CLI prints.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return out, nil
}

// checkExpect compares an executed event with its expect clause.
func checkExpect(ev TraceEvent, expect *ExpectClause) []string {
	want := OutcomeOK
	if expect != nil && expect.Error != "" {
		want = expect.Error
	}
	if ev.Outcome != want {
		if ev.OK() {
			return []string{fmt.Sprintf("expected error %s, got success", want)}
		}
		return []string{fmt.Sprintf("expected %s, got %s: %s", want, ev.Outcome, ev.Error)}
	}
	if expect == nil || expect.Result == nil {
		return nil
	}

	var msgs []string
	for _, key := range sortedKeys(expect.Result) {
		actual, ok := lookup(ev.Result, key)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("result.%s: missing", key))
			continue
		}
		if !valuesEqual(actual, expect.Result[key]) {
			msgs = append(msgs, fmt.Sprintf("result.%s: expected %v, got %v", key, expect.Result[key], actual))
		}
	}
	return msgs
}

func lookup(v any, key string) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	val, ok := m[key]
	return val, ok
}
