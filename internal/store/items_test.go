package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepwise/internal/ir"
)

func listItems(t *testing.T, s *Store, step string) []ir.ChecklistItem {
	t.Helper()
	var items []ir.ChecklistItem
	require.NoError(t, s.View(context.Background(), func(tx *Tx) error {
		var err error
		items, err = tx.ListItems(context.Background(), testPlan, step)
		return err
	}))
	return items
}

func statuses(items []ir.ChecklistItem) []ir.ItemStatus {
	out := make([]ir.ItemStatus, len(items))
	for i, it := range items {
		out[i] = it.Status
	}
	return out
}

func TestListItems_KindThenOrdinal(t *testing.T) {
	s := createTestStore(t)
	seedPlan(t, s, seedStep{anchor: "S1", tasks: 2})
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		for _, it := range []ir.ChecklistItem{
			{Kind: ir.KindCheckpoint, Ordinal: 1, Text: "cp"},
			{Kind: ir.KindTest, Ordinal: 2, Text: "t2"},
			{Kind: ir.KindTest, Ordinal: 1, Text: "t1"},
		} {
			it.Plan, it.Step, it.Status, it.UpdatedAt = testPlan, "S1", ir.ItemOpen, testNow
			if _, err := tx.InsertItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	}))

	items := listItems(t, s, "S1")
	var got []string
	for _, it := range items {
		got = append(got, fmt.Sprintf("%s#%d", it.Kind, it.Ordinal))
	}
	assert.Equal(t, []string{"task#1", "task#2", "test#1", "test#2", "checkpoint#1"}, got)
}

func TestSetItemStatus(t *testing.T) {
	s := createTestStore(t)
	seedPlan(t, s, seedStep{anchor: "S1", tasks: 2})
	ctx := context.Background()

	var found bool
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		var err error
		found, err = tx.SetItemStatus(ctx, testPlan, "S1", ir.KindTask, 2, ir.ItemCompleted, testNow)
		return err
	}))
	assert.True(t, found)
	assert.Equal(t, []ir.ItemStatus{ir.ItemOpen, ir.ItemCompleted}, statuses(listItems(t, s, "S1")))

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		var err error
		found, err = tx.SetItemStatus(ctx, testPlan, "S1", ir.KindTest, 1, ir.ItemCompleted, testNow)
		return err
	}))
	assert.False(t, found, "step has no test items")
}

func TestResetUnfinishedItems_KeepsCompleted(t *testing.T) {
	s := createTestStore(t)
	seedPlan(t, s, seedStep{anchor: "S1", tasks: 4})
	ctx := context.Background()

	var reset int
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		for ord, st := range map[int]ir.ItemStatus{
			1: ir.ItemCompleted, 2: ir.ItemInProgress, 3: ir.ItemDeferred,
		} {
			if _, err := tx.SetItemStatus(ctx, testPlan, "S1", ir.KindTask, ord, st, testNow); err != nil {
				return err
			}
		}
		var err error
		reset, err = tx.ResetUnfinishedItems(ctx, testPlan, "S1", testNow)
		return err
	}))

	assert.Equal(t, 2, reset)
	assert.Equal(t,
		[]ir.ItemStatus{ir.ItemCompleted, ir.ItemOpen, ir.ItemOpen, ir.ItemOpen},
		statuses(listItems(t, s, "S1")))
}

func TestCompleteUnfinishedItems(t *testing.T) {
	s := createTestStore(t)
	seedPlan(t, s, seedStep{anchor: "S1", tasks: 3})
	ctx := context.Background()

	var n int
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.SetItemStatus(ctx, testPlan, "S1", ir.KindTask, 1, ir.ItemCompleted, testNow); err != nil {
			return err
		}
		if _, err := tx.SetItemStatus(ctx, testPlan, "S1", ir.KindTask, 2, ir.ItemDeferred, testNow); err != nil {
			return err
		}
		var err error
		n, err = tx.CompleteUnfinishedItems(ctx, testPlan, "S1", testNow)
		return err
	}))

	assert.Equal(t, 2, n)
	assert.Equal(t,
		[]ir.ItemStatus{ir.ItemCompleted, ir.ItemCompleted, ir.ItemCompleted},
		statuses(listItems(t, s, "S1")))
}

func TestArtifacts_AppendOnlyAndCounted(t *testing.T) {
	s := createTestStore(t)
	seedPlan(t, s, seedStep{anchor: "S1"}, seedStep{anchor: "S2"})
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		for _, a := range []ir.Artifact{
			{Step: "S1", Kind: "test_run", Summary: "ok"},
			{Step: "S1", Kind: "note", Summary: "second"},
			{Step: "S2", Kind: "note", Summary: "other"},
		} {
			a.Plan, a.RecordedAt = testPlan, testNow
			if _, err := tx.InsertArtifact(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		list, err := tx.ListArtifacts(ctx, testPlan, "S1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "ok", list[0].Summary)
		assert.Equal(t, "second", list[1].Summary)
		assert.True(t, list[0].RecordedAt.Equal(testNow))

		counts, err := tx.CountArtifacts(ctx, testPlan)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"S1": 2, "S2": 1}, counts)
		return nil
	}))
}
