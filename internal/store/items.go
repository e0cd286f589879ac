package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/stepwise/internal/ir"
)

const (
	itemColumns = `id, plan_path, step_anchor, kind, ordinal, text, status, updated_at`

	// itemOrder lists items task, test, checkpoint, then by ordinal.
	itemOrder = `ORDER BY CASE kind WHEN 'task' THEN 0 WHEN 'test' THEN 1 ELSE 2 END, ordinal ASC`

	listItemsQuery = `SELECT ` + itemColumns + ` FROM checklist_items
		WHERE plan_path = ? AND step_anchor = ? ` + itemOrder

	listPlanItemsQuery = `SELECT ` + itemColumns + ` FROM checklist_items
		WHERE plan_path = ? ORDER BY step_anchor COLLATE BINARY ASC,
		CASE kind WHEN 'task' THEN 0 WHEN 'test' THEN 1 ELSE 2 END, ordinal ASC`
)

func scanItem(row scanner) (ir.ChecklistItem, error) {
	var (
		it           ir.ChecklistItem
		kind, status string
		updatedAt    int64
	)
	if err := row.Scan(&it.ID, &it.Plan, &it.Step, &kind, &it.Ordinal, &it.Text, &status, &updatedAt); err != nil {
		return ir.ChecklistItem{}, err
	}
	it.Kind = ir.ItemKind(kind)
	it.Status = ir.ItemStatus(status)
	it.UpdatedAt = fromMillis(updatedAt)
	return it, nil
}

func scanItems(rows *sql.Rows) ([]ir.ChecklistItem, error) {
	defer rows.Close()

	items := []ir.ChecklistItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checklist items: %w", err)
	}
	return items, nil
}

// InsertItem writes a checklist item and returns its surrogate id.
func (t *Tx) InsertItem(ctx context.Context, it ir.ChecklistItem) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO checklist_items (plan_path, step_anchor, kind, ordinal, text, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, it.Plan, it.Step, string(it.Kind), it.Ordinal, it.Text, string(it.Status), toMillis(it.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert checklist item %s/%s#%d: %w", it.Step, it.Kind, it.Ordinal, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert checklist item: last insert id: %w", err)
	}
	return id, nil
}

// ListItems returns one step's checklist in kind, then ordinal order.
func (t *Tx) ListItems(ctx context.Context, plan, step string) ([]ir.ChecklistItem, error) {
	rows, err := t.tx.QueryContext(ctx, listItemsQuery, plan, step)
	if err != nil {
		return nil, fmt.Errorf("query checklist items: %w", err)
	}
	return scanItems(rows)
}

// ListPlanItems returns every checklist item of a plan keyed by step anchor.
func (t *Tx) ListPlanItems(ctx context.Context, plan string) (map[string][]ir.ChecklistItem, error) {
	rows, err := t.tx.QueryContext(ctx, listPlanItemsQuery, plan)
	if err != nil {
		return nil, fmt.Errorf("query plan checklist items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	byStep := make(map[string][]ir.ChecklistItem)
	for _, it := range items {
		byStep[it.Step] = append(byStep[it.Step], it)
	}
	return byStep, nil
}

// SetItemStatus sets one (kind, ordinal) item. found is false if the step
// has no such item.
func (t *Tx) SetItemStatus(ctx context.Context, plan, step string, kind ir.ItemKind, ordinal int, status ir.ItemStatus, now time.Time) (found bool, err error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE checklist_items SET status = ?, updated_at = ?
		WHERE plan_path = ? AND step_anchor = ? AND kind = ? AND ordinal = ?
	`, string(status), toMillis(now), plan, step, string(kind), ordinal)
	if err != nil {
		return false, fmt.Errorf("set checklist item status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set checklist item status: rows affected: %w", err)
	}
	return n == 1, nil
}

// ResetUnfinishedItems sets every non-completed item of a step back to
// open, discarding partial progress. Completed items are preserved.
func (t *Tx) ResetUnfinishedItems(ctx context.Context, plan, step string, now time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE checklist_items SET status = 'open', updated_at = ?
		WHERE plan_path = ? AND step_anchor = ? AND status NOT IN ('completed', 'open')
	`, toMillis(now), plan, step)
	if err != nil {
		return 0, fmt.Errorf("reset checklist items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset checklist items: rows affected: %w", err)
	}
	return int(n), nil
}

// CompleteUnfinishedItems marks every non-completed item of a step
// completed. Used by forced completion and reconciliation.
func (t *Tx) CompleteUnfinishedItems(ctx context.Context, plan, step string, now time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE checklist_items SET status = 'completed', updated_at = ?
		WHERE plan_path = ? AND step_anchor = ? AND status <> 'completed'
	`, toMillis(now), plan, step)
	if err != nil {
		return 0, fmt.Errorf("complete checklist items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("complete checklist items: rows affected: %w", err)
	}
	return int(n), nil
}
