package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/stepwise/internal/ir"
)

const testPlan = "plans/demo.yaml"

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedStep describes one step for seedPlan.
type seedStep struct {
	anchor string
	deps   []string
	tasks  int
}

// seedPlan writes a plan with pending steps, dependency edges and open
// task items in a single transaction.
func seedPlan(t *testing.T, s *Store, steps ...seedStep) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *Tx) error {
		ctx := context.Background()
		if err := tx.InsertPlan(ctx, ir.Plan{
			Path:      testPlan,
			Hash:      "hash-1",
			Title:     "Demo",
			Status:    ir.PlanActive,
			CreatedAt: testNow,
			UpdatedAt: testNow,
		}); err != nil {
			return err
		}
		for i, st := range steps {
			if err := tx.InsertStep(ctx, ir.Step{
				Plan:   testPlan,
				Anchor: st.anchor,
				Index:  i,
				Title:  "Step " + st.anchor,
				Status: ir.StepPending,
			}); err != nil {
				return err
			}
			for n := 1; n <= st.tasks; n++ {
				if _, err := tx.InsertItem(ctx, ir.ChecklistItem{
					Plan:      testPlan,
					Step:      st.anchor,
					Kind:      ir.KindTask,
					Ordinal:   n,
					Text:      "task",
					Status:    ir.ItemOpen,
					UpdatedAt: testNow,
				}); err != nil {
					return err
				}
			}
		}
		for _, st := range steps {
			for _, dep := range st.deps {
				if err := tx.InsertDependency(ctx, testPlan, st.anchor, dep); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seedPlan() failed: %v", err)
	}
}

// getStep reads a step through a View.
func getStep(t *testing.T, s *Store, anchor string) ir.Step {
	t.Helper()
	var step ir.Step
	err := s.View(context.Background(), func(tx *Tx) error {
		var found bool
		var err error
		step, found, err = tx.GetStep(context.Background(), testPlan, anchor)
		if err == nil && !found {
			t.Fatalf("step %s not found", anchor)
		}
		return err
	})
	if err != nil {
		t.Fatalf("GetStep() failed: %v", err)
	}
	return step
}
