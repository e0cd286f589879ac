package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// MaxArtifactSummary bounds artifact summaries, in runes.
const MaxArtifactSummary = 2000

// ItemUpdate sets one checklist item, addressed by (kind, ordinal).
type ItemUpdate struct {
	Kind    ir.ItemKind   `json:"kind" yaml:"kind"`
	Ordinal int           `json:"ordinal" yaml:"ordinal"`
	Status  ir.ItemStatus `json:"status" yaml:"status"`
}

// Rollup counts a step's items by status.
type Rollup struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Deferred   int `json:"deferred"`
}

func (r *Rollup) add(s ir.ItemStatus) {
	r.Total++
	switch s {
	case ir.ItemOpen:
		r.Open++
	case ir.ItemInProgress:
		r.InProgress++
	case ir.ItemCompleted:
		r.Completed++
	case ir.ItemDeferred:
		r.Deferred++
	}
}

// rollupByKind summarizes items per kind. Every kind is present.
func rollupByKind(items []ir.ChecklistItem) map[ir.ItemKind]Rollup {
	out := make(map[ir.ItemKind]Rollup, len(ir.ItemKinds))
	for _, k := range ir.ItemKinds {
		out[k] = Rollup{}
	}
	for _, it := range items {
		r := out[it.Kind]
		r.add(it.Status)
		out[it.Kind] = r
	}
	return out
}

// ChecklistRequest applies one or more item transitions.
type ChecklistRequest struct {
	Plan  string
	Step  string
	Owner string
	Items []ItemUpdate
}

// ChecklistResult reports the applied updates and the step's new rollup.
type ChecklistResult struct {
	Plan    string                 `json:"plan"`
	Step    string                 `json:"step"`
	Updated int                    `json:"updated"`
	Rollup  map[ir.ItemKind]Rollup `json:"rollup"`
}

// UpdateChecklist sets the status of every named item in one transaction.
// Ownership-gated and drift-guarded. If any item is unknown nothing is
// applied and the error is ITEM_NOT_FOUND.
func (e *Engine) UpdateChecklist(ctx context.Context, req ChecklistRequest) (ChecklistResult, error) {
	if err := requireArgs("plan", req.Plan, "step", req.Step, "owner", req.Owner); err != nil {
		return ChecklistResult{}, err
	}
	if len(req.Items) == 0 {
		return ChecklistResult{}, ir.NewInvalidArgumentError("at least one item update is required")
	}
	for _, u := range req.Items {
		if !u.Kind.Valid() {
			return ChecklistResult{}, ir.NewInvalidArgumentError(fmt.Sprintf("unknown item kind %q", u.Kind))
		}
		if !u.Status.Valid() {
			return ChecklistResult{}, ir.NewInvalidArgumentError(fmt.Sprintf("unknown item status %q", u.Status))
		}
		if u.Ordinal < 1 {
			return ChecklistResult{}, ir.NewInvalidArgumentError(fmt.Sprintf("item ordinal must be >= 1, got %d", u.Ordinal))
		}
	}

	doc := e.hashDocument(req.Plan)
	res := ChecklistResult{Plan: req.Plan, Step: req.Step}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		p, err := loadPlan(ctx, tx, req.Plan)
		if err != nil {
			return err
		}
		if err := checkDrift(p, doc); err != nil {
			return err
		}
		if _, err := requireOwner(ctx, tx, req.Plan, req.Step, req.Owner); err != nil {
			return err
		}

		now := e.now()
		for _, u := range req.Items {
			found, err := tx.SetItemStatus(ctx, req.Plan, req.Step, u.Kind, u.Ordinal, u.Status, now)
			if err != nil {
				return err
			}
			if !found {
				return ir.NewItemNotFoundError(req.Plan, req.Step, u.Kind, u.Ordinal)
			}
			res.Updated++
		}

		items, err := tx.ListItems(ctx, req.Plan, req.Step)
		if err != nil {
			return err
		}
		res.Rollup = rollupByKind(items)
		return nil
	})
	if err != nil {
		return ChecklistResult{}, fmt.Errorf("update %s/%s: %w", req.Plan, req.Step, err)
	}

	e.logger.Debug("checklist updated",
		"plan", req.Plan,
		"step", req.Step,
		"owner", req.Owner,
		"updated", res.Updated,
	)
	return res, nil
}

// ArtifactRequest appends an audit breadcrumb to a step.
type ArtifactRequest struct {
	Plan    string
	Step    string
	Owner   string
	Kind    string
	Summary string
}

// ArtifactResult identifies the recorded artifact.
type ArtifactResult struct {
	ID        int64  `json:"id"`
	Plan      string `json:"plan"`
	Step      string `json:"step"`
	Kind      string `json:"kind"`
	Truncated bool   `json:"truncated"`
}

// RecordArtifact appends one immutable artifact row. Ownership-gated.
// Summaries longer than MaxArtifactSummary runes are truncated.
func (e *Engine) RecordArtifact(ctx context.Context, req ArtifactRequest) (ArtifactResult, error) {
	if err := requireArgs("plan", req.Plan, "step", req.Step, "owner", req.Owner, "kind", req.Kind); err != nil {
		return ArtifactResult{}, err
	}
	summary, truncated := truncateRunes(strings.TrimSpace(req.Summary), MaxArtifactSummary)
	res := ArtifactResult{Plan: req.Plan, Step: req.Step, Kind: req.Kind, Truncated: truncated}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := requireOwner(ctx, tx, req.Plan, req.Step, req.Owner); err != nil {
			return err
		}
		id, err := tx.InsertArtifact(ctx, ir.Artifact{
			Plan:       req.Plan,
			Step:       req.Step,
			Kind:       req.Kind,
			Summary:    summary,
			RecordedAt: e.now(),
		})
		res.ID = id
		return err
	})
	if err != nil {
		return ArtifactResult{}, fmt.Errorf("artifact %s/%s: %w", req.Plan, req.Step, err)
	}

	e.logger.Debug("artifact recorded", "plan", req.Plan, "step", req.Step, "kind", req.Kind, "id", res.ID)
	return res, nil
}

// truncateRunes cuts s to at most n runes on a rune boundary.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
