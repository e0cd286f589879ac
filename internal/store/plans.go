package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/stepwise/internal/ir"
)

const (
	planColumns = `path, hash, title, status, created_at, updated_at`

	selectPlanQuery = `SELECT ` + planColumns + ` FROM plans WHERE path = ?`

	listPlansQuery = `SELECT ` + planColumns + ` FROM plans ORDER BY path COLLATE BINARY ASC`

	insertPlanQuery = `INSERT INTO plans (` + planColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
)

func scanPlan(row scanner) (ir.Plan, error) {
	var (
		p                    ir.Plan
		title                sql.NullString
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.Path, &p.Hash, &title, &status, &createdAt, &updatedAt); err != nil {
		return ir.Plan{}, err
	}
	p.Title = title.String
	p.Status = ir.PlanStatus(status)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// GetPlan loads a plan by path. found is false if no such plan exists.
func (t *Tx) GetPlan(ctx context.Context, path string) (plan ir.Plan, found bool, err error) {
	plan, err = scanPlan(t.tx.QueryRowContext(ctx, selectPlanQuery, path))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Plan{}, false, nil
	}
	if err != nil {
		return ir.Plan{}, false, fmt.Errorf("get plan: %w", err)
	}
	return plan, true, nil
}

// ListPlans returns every plan ordered by path.
func (t *Tx) ListPlans(ctx context.Context) ([]ir.Plan, error) {
	rows, err := t.tx.QueryContext(ctx, listPlansQuery)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	plans := []ir.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// InsertPlan writes a new plan row. Fails if the path already exists.
func (t *Tx) InsertPlan(ctx context.Context, p ir.Plan) error {
	_, err := t.tx.ExecContext(ctx, insertPlanQuery,
		p.Path,
		p.Hash,
		nullString(p.Title),
		string(p.Status),
		toMillis(p.CreatedAt),
		toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// SetPlanStatus transitions a plan between active and done.
func (t *Tx) SetPlanStatus(ctx context.Context, path string, status ir.PlanStatus, now time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE plans SET status = ?, updated_at = ? WHERE path = ?`,
		string(status), toMillis(now), path,
	)
	if err != nil {
		return fmt.Errorf("set plan status: %w", err)
	}
	return expectOne(res, "set plan status")
}

// ReplacePlanBaseline records a new drift baseline during re-initialization
// and reopens the plan.
func (t *Tx) ReplacePlanBaseline(ctx context.Context, path, hash, title string, now time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE plans SET hash = ?, title = ?, status = 'active', updated_at = ? WHERE path = ?`,
		hash, nullString(title), toMillis(now), path,
	)
	if err != nil {
		return fmt.Errorf("replace plan baseline: %w", err)
	}
	return expectOne(res, "replace plan baseline")
}

// DeletePlanStructure removes a plan's steps, dependency edges and
// checklist items. The plan row and its artifacts are kept.
func (t *Tx) DeletePlanStructure(ctx context.Context, path string) error {
	stmts := []string{
		`DELETE FROM checklist_items WHERE plan_path = ?`,
		`DELETE FROM step_dependencies WHERE plan_path = ?`,
		`DELETE FROM steps WHERE plan_path = ?`,
	}
	for _, stmt := range stmts {
		if _, err := t.tx.ExecContext(ctx, stmt, path); err != nil {
			return fmt.Errorf("delete plan structure: %w", err)
		}
	}
	return nil
}
