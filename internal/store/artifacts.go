package store

import (
	"context"
	"fmt"

	"github.com/roach88/stepwise/internal/ir"
)

// InsertArtifact appends an audit breadcrumb and returns its id.
// Artifacts are never updated or deleted.
func (t *Tx) InsertArtifact(ctx context.Context, a ir.Artifact) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO artifacts (plan_path, step_anchor, kind, summary, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.Plan, a.Step, a.Kind, a.Summary, toMillis(a.RecordedAt))
	if err != nil {
		return 0, fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert artifact: last insert id: %w", err)
	}
	return id, nil
}

// ListArtifacts returns a step's artifacts in recording order.
func (t *Tx) ListArtifacts(ctx context.Context, plan, step string) ([]ir.Artifact, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, plan_path, step_anchor, kind, summary, recorded_at
		FROM artifacts
		WHERE plan_path = ? AND step_anchor = ?
		ORDER BY id ASC
	`, plan, step)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []ir.Artifact{}
	for rows.Next() {
		var (
			a          ir.Artifact
			recordedAt int64
		)
		if err := rows.Scan(&a.ID, &a.Plan, &a.Step, &a.Kind, &a.Summary, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.RecordedAt = fromMillis(recordedAt)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// CountArtifacts returns the number of artifacts per step anchor.
func (t *Tx) CountArtifacts(ctx context.Context, plan string) (map[string]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT step_anchor, COUNT(*) FROM artifacts WHERE plan_path = ? GROUP BY step_anchor
	`, plan)
	if err != nil {
		return nil, fmt.Errorf("count artifacts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			step string
			n    int
		)
		if err := rows.Scan(&step, &n); err != nil {
			return nil, fmt.Errorf("scan artifact count: %w", err)
		}
		counts[step] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact counts: %w", err)
	}
	return counts, nil
}
