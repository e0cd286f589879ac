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
	stepColumns = `plan_path, anchor, step_index, title, status,
		claimed_by, claimed_at, lease_expires_at, heartbeat_at,
		started_at, completed_at, commit_hash, complete_reason`

	insertStepQuery = `INSERT INTO steps (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectStepQuery = `SELECT ` + stepColumns + ` FROM steps WHERE plan_path = ? AND anchor = ?`

	listStepsQuery = `SELECT ` + stepColumns + ` FROM steps WHERE plan_path = ? ORDER BY step_index ASC`

	// nextClaimableQuery selects the lowest-index step that is pending,
	// held under an expired lease, held by the requesting owner, or held at
	// all when force is set, and whose dependencies are all completed.
	//
	// Args: plan, now, owner, force (0|1).
	nextClaimableQuery = `SELECT ` + stepColumns + ` FROM steps AS s
		WHERE s.plan_path = ?1
		  AND (
		        s.status = 'pending'
		     OR (s.status IN ('claimed', 'in_progress')
		         AND (s.lease_expires_at <= ?2 OR s.claimed_by = ?3 OR ?4 = 1))
		  )
		  AND NOT EXISTS (
		        SELECT 1 FROM step_dependencies AS d
		        JOIN steps AS dep
		          ON dep.plan_path = d.plan_path AND dep.anchor = d.depends_on
		        WHERE d.plan_path = s.plan_path
		          AND d.step_anchor = s.anchor
		          AND dep.status <> 'completed'
		  )
		ORDER BY s.step_index ASC
		LIMIT 1`
)

func scanStep(row scanner) (ir.Step, error) {
	var (
		s                                      ir.Step
		status                                 string
		claimedBy, commitHash, completeReason  sql.NullString
		claimedAt, leaseExpiresAt, heartbeatAt sql.NullInt64
		startedAt, completedAt                 sql.NullInt64
	)
	err := row.Scan(
		&s.Plan, &s.Anchor, &s.Index, &s.Title, &status,
		&claimedBy, &claimedAt, &leaseExpiresAt, &heartbeatAt,
		&startedAt, &completedAt, &commitHash, &completeReason,
	)
	if err != nil {
		return ir.Step{}, err
	}
	s.Status = ir.StepStatus(status)
	s.ClaimedBy = claimedBy.String
	s.ClaimedAt = fromNullMillis(claimedAt)
	s.LeaseExpiresAt = fromNullMillis(leaseExpiresAt)
	s.HeartbeatAt = fromNullMillis(heartbeatAt)
	s.StartedAt = fromNullMillis(startedAt)
	s.CompletedAt = fromNullMillis(completedAt)
	s.CommitHash = commitHash.String
	s.CompleteReason = completeReason.String
	return s, nil
}

func scanSteps(rows *sql.Rows) ([]ir.Step, error) {
	defer rows.Close()

	steps := []ir.Step{}
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// InsertStep writes a step row with every column taken from s.
func (t *Tx) InsertStep(ctx context.Context, s ir.Step) error {
	_, err := t.tx.ExecContext(ctx, insertStepQuery,
		s.Plan,
		s.Anchor,
		s.Index,
		s.Title,
		string(s.Status),
		nullString(s.ClaimedBy),
		nullMillis(s.ClaimedAt),
		nullMillis(s.LeaseExpiresAt),
		nullMillis(s.HeartbeatAt),
		nullMillis(s.StartedAt),
		nullMillis(s.CompletedAt),
		nullString(s.CommitHash),
		nullString(s.CompleteReason),
	)
	if err != nil {
		return fmt.Errorf("insert step %s: %w", s.Anchor, err)
	}
	return nil
}

// GetStep loads one step. found is false if the anchor is unknown.
func (t *Tx) GetStep(ctx context.Context, plan, anchor string) (step ir.Step, found bool, err error) {
	step, err = scanStep(t.tx.QueryRowContext(ctx, selectStepQuery, plan, anchor))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Step{}, false, nil
	}
	if err != nil {
		return ir.Step{}, false, fmt.Errorf("get step: %w", err)
	}
	return step, true, nil
}

// ListSteps returns all steps of a plan in step_index order.
// Returns an empty slice (not nil) if the plan has no steps.
func (t *Tx) ListSteps(ctx context.Context, plan string) ([]ir.Step, error) {
	rows, err := t.tx.QueryContext(ctx, listStepsQuery, plan)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	return scanSteps(rows)
}

// NextClaimable returns the step a claim by owner at now would take.
// found is false when nothing qualifies.
func (t *Tx) NextClaimable(ctx context.Context, plan, owner string, now time.Time, force bool) (step ir.Step, found bool, err error) {
	forceArg := 0
	if force {
		forceArg = 1
	}
	step, err = scanStep(t.tx.QueryRowContext(ctx, nextClaimableQuery, plan, toMillis(now), owner, forceArg))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Step{}, false, nil
	}
	if err != nil {
		return ir.Step{}, false, fmt.Errorf("select claimable step: %w", err)
	}
	return step, true, nil
}

// ClaimStep hands a step to owner with a fresh lease. Heartbeat and start
// timestamps are cleared.
func (t *Tx) ClaimStep(ctx context.Context, plan, anchor, owner string, now, leaseExpiresAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE steps
		SET status = 'claimed', claimed_by = ?, claimed_at = ?, lease_expires_at = ?,
		    heartbeat_at = NULL, started_at = NULL
		WHERE plan_path = ? AND anchor = ?
	`, owner, toMillis(now), toMillis(leaseExpiresAt), plan, anchor)
	if err != nil {
		return fmt.Errorf("claim step: %w", err)
	}
	return expectOne(res, "claim step")
}

// StartStep moves a claimed step to in_progress.
func (t *Tx) StartStep(ctx context.Context, plan, anchor string, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE steps SET status = 'in_progress', started_at = ?
		WHERE plan_path = ? AND anchor = ? AND status = 'claimed'
	`, toMillis(now), plan, anchor)
	if err != nil {
		return fmt.Errorf("start step: %w", err)
	}
	return expectOne(res, "start step")
}

// ExtendLease renews a held step's lease and stamps the heartbeat.
func (t *Tx) ExtendLease(ctx context.Context, plan, anchor string, now, leaseExpiresAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE steps SET lease_expires_at = ?, heartbeat_at = ?
		WHERE plan_path = ? AND anchor = ? AND status IN ('claimed', 'in_progress')
	`, toMillis(leaseExpiresAt), toMillis(now), plan, anchor)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return expectOne(res, "extend lease")
}

// CompleteStep marks a held step completed. Ownership columns are kept as
// the record of who finished it. reason is stored only when non-empty.
func (t *Tx) CompleteStep(ctx context.Context, plan, anchor string, now time.Time, commit, reason string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE steps
		SET status = 'completed', completed_at = ?, commit_hash = ?, complete_reason = ?
		WHERE plan_path = ? AND anchor = ? AND status IN ('claimed', 'in_progress')
	`, toMillis(now), nullString(commit), nullString(reason), plan, anchor)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	return expectOne(res, "complete step")
}

// ReconcileStep marks an unfinished step completed from the commit log.
// Any ownership is dropped: the log, not a worker, closed the step.
func (t *Tx) ReconcileStep(ctx context.Context, plan, anchor string, now time.Time, commit, reason string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE steps
		SET status = 'completed', completed_at = ?, commit_hash = ?, complete_reason = ?,
		    claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL, heartbeat_at = NULL
		WHERE plan_path = ? AND anchor = ? AND status <> 'completed'
	`, toMillis(now), nullString(commit), nullString(reason), plan, anchor)
	if err != nil {
		return fmt.Errorf("reconcile step: %w", err)
	}
	return expectOne(res, "reconcile step")
}

// SetStepCommit overwrites the commit recorded on a completed step.
func (t *Tx) SetStepCommit(ctx context.Context, plan, anchor, commit string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE steps SET commit_hash = ?
		WHERE plan_path = ? AND anchor = ? AND status = 'completed'
	`, nullString(commit), plan, anchor)
	if err != nil {
		return fmt.Errorf("set step commit: %w", err)
	}
	return expectOne(res, "set step commit")
}

// ReleaseStep returns a held step to pending and clears ownership.
func (t *Tx) ReleaseStep(ctx context.Context, plan, anchor string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE steps
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL,
		    heartbeat_at = NULL, started_at = NULL
		WHERE plan_path = ? AND anchor = ? AND status IN ('claimed', 'in_progress')
	`, plan, anchor)
	if err != nil {
		return fmt.Errorf("release step: %w", err)
	}
	return expectOne(res, "release step")
}

// CountIncompleteSteps returns how many steps of a plan are not completed.
func (t *Tx) CountIncompleteSteps(ctx context.Context, plan string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM steps WHERE plan_path = ? AND status <> 'completed'`, plan,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incomplete steps: %w", err)
	}
	return n, nil
}

// InsertDependency records that step depends on dependsOn.
func (t *Tx) InsertDependency(ctx context.Context, plan, step, dependsOn string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO step_dependencies (plan_path, step_anchor, depends_on) VALUES (?, ?, ?)`,
		plan, step, dependsOn,
	)
	if err != nil {
		return fmt.Errorf("insert dependency %s -> %s: %w", step, dependsOn, err)
	}
	return nil
}

// ListDependencies returns each step's dependencies, keyed by step anchor.
// Dependencies are listed in the depended-on step's index order.
func (t *Tx) ListDependencies(ctx context.Context, plan string) (map[string][]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT d.step_anchor, d.depends_on
		FROM step_dependencies AS d
		JOIN steps AS dep ON dep.plan_path = d.plan_path AND dep.anchor = d.depends_on
		WHERE d.plan_path = ?
		ORDER BY d.step_anchor COLLATE BINARY ASC, dep.step_index ASC
	`, plan)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var step, dependsOn string
		if err := rows.Scan(&step, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps[step] = append(deps[step], dependsOn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return deps, nil
}
