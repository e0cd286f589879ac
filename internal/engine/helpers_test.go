package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
	"github.com/roach88/stepwise/internal/testutil"
)

const demoPlan = "plans/demo.yaml"

// docSet is an in-memory DocumentSource keyed by plan path.
type docSet struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (d *docSet) ReadDocument(plan string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.docs[plan]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", plan, os.ErrNotExist)
	}
	return src, nil
}

func (d *docSet) set(plan string, src []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[plan] = src
}

func (d *docSet) remove(plan string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.docs, plan)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	dbPath string
	clock  *testutil.ManualClock
	docs   *docSet
	eng    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		dbPath: filepath.Join(t.TempDir(), "stepwise.db"),
		clock:  testutil.NewManualClock(time.Time{}),
		docs:   &docSet{docs: make(map[string][]byte)},
	}
	f.eng = f.peer()
	return f
}

// peer opens an independent store handle on the same database file, as a
// second worker process would.
func (f *fixture) peer() *Engine {
	f.t.Helper()
	st, err := store.Open(f.dbPath)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { st.Close() })
	return New(st, WithClock(f.clock), WithDocumentSource(f.docs))
}

// source renders a deterministic document for p.
func source(p ir.ParsedPlan) []byte {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		panic(err)
	}
	return b
}

// initPlan publishes p as the document for demoPlan and initializes it.
func (f *fixture) initPlan(p ir.ParsedPlan) InitResult {
	f.t.Helper()
	src := source(p)
	f.docs.set(demoPlan, src)
	res, err := f.eng.Init(f.ctx, demoPlan, src, p)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) claim(owner string, lease time.Duration) (ClaimResult, error) {
	return f.eng.Claim(f.ctx, ClaimRequest{Plan: demoPlan, Owner: owner, Lease: lease})
}

func (f *fixture) mustClaim(owner string) ClaimResult {
	f.t.Helper()
	res, err := f.claim(owner, 0)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) update(step, owner string, updates ...ItemUpdate) (ChecklistResult, error) {
	return f.eng.UpdateChecklist(f.ctx, ChecklistRequest{Plan: demoPlan, Step: step, Owner: owner, Items: updates})
}

func (f *fixture) complete(step, owner, commit string) (CompleteResult, error) {
	return f.eng.Complete(f.ctx, CompleteRequest{Plan: demoPlan, Step: step, Owner: owner, Commit: commit})
}

func (f *fixture) forceComplete(step, owner string) CompleteResult {
	f.t.Helper()
	res, err := f.eng.Complete(f.ctx, CompleteRequest{Plan: demoPlan, Step: step, Owner: owner, Force: true})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) show() ShowResult {
	f.t.Helper()
	res, err := f.eng.Show(f.ctx, demoPlan)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) step(anchor string) StepDetail {
	f.t.Helper()
	for _, s := range f.show().Steps {
		if s.Anchor == anchor {
			return s
		}
	}
	f.t.Fatalf("step %s not found", anchor)
	return StepDetail{}
}

func itemStatuses(items []ir.ChecklistItem) map[string]ir.ItemStatus {
	out := make(map[string]ir.ItemStatus, len(items))
	for _, it := range items {
		out[fmt.Sprintf("%s#%d", it.Kind, it.Ordinal)] = it.Status
	}
	return out
}

func set(kind ir.ItemKind, ordinal int, status ir.ItemStatus) ItemUpdate {
	return ItemUpdate{Kind: kind, Ordinal: ordinal, Status: status}
}

// twoStepPlan is S1 (two tasks, one test) and S2 depending on S1.
func twoStepPlan() ir.ParsedPlan {
	return ir.ParsedPlan{
		Title: "Demo",
		Steps: []ir.ParsedStep{
			{
				Anchor: "S1",
				Title:  "Schema",
				Tasks:  []string{"create tables", "add indexes"},
				Tests:  []string{"schema round-trips"},
			},
			{
				Anchor:    "S2",
				Title:     "Claim",
				DependsOn: []string{"S1"},
				Tasks:     []string{"select next step"},
			},
		},
	}
}

// independentPlan has n steps without dependencies.
func independentPlan(n int) ir.ParsedPlan {
	p := ir.ParsedPlan{Title: "Independent"}
	for i := 1; i <= n; i++ {
		p.Steps = append(p.Steps, ir.ParsedStep{
			Anchor: fmt.Sprintf("S%d", i),
			Title:  fmt.Sprintf("Step %d", i),
			Tasks:  []string{"do it"},
		})
	}
	return p
}
