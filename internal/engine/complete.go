package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// DefaultForceReason is recorded when a forced completion gives no reason.
const DefaultForceReason = "forced completion"

// CompleteRequest closes a held step.
type CompleteRequest struct {
	Plan   string
	Step   string
	Owner  string
	Commit string
	// Force completes despite unresolved items, marking them completed.
	Force  bool
	Reason string
}

// CompleteResult reports the completion.
type CompleteResult struct {
	Plan          string    `json:"plan"`
	Step          string    `json:"step"`
	Completed     bool      `json:"completed"`
	Forced        bool      `json:"forced"`
	ItemsForced   int       `json:"items_forced"`
	Commit        string    `json:"commit,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
	PlanCompleted bool      `json:"plan_completed"`
}

// Complete marks a held step completed. Ownership-gated and drift-guarded.
//
// Strict mode fails with *ir.OpenItemsError unless every item of the step
// is completed or deferred. Forced mode sets every non-completed item to
// completed and records Reason. Only this step's own checklist gates
// completion. When the last open step closes the plan becomes done.
func (e *Engine) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	if err := requireArgs("plan", req.Plan, "step", req.Step, "owner", req.Owner); err != nil {
		return CompleteResult{}, err
	}
	reason := ""
	if req.Force {
		reason = strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = DefaultForceReason
		}
	}

	doc := e.hashDocument(req.Plan)
	res := CompleteResult{Plan: req.Plan, Step: req.Step, Commit: req.Commit, Forced: req.Force}

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
		if req.Force {
			res.ItemsForced, err = tx.CompleteUnfinishedItems(ctx, req.Plan, req.Step, now)
			if err != nil {
				return err
			}
		} else {
			items, err := tx.ListItems(ctx, req.Plan, req.Step)
			if err != nil {
				return err
			}
			var open []ir.ItemRef
			for _, it := range items {
				if !it.Status.Resolved() {
					open = append(open, it.Ref())
				}
			}
			if len(open) > 0 {
				return &ir.OpenItemsError{Plan: req.Plan, Step: req.Step, Items: open}
			}
		}

		if err := tx.CompleteStep(ctx, req.Plan, req.Step, now, req.Commit, reason); err != nil {
			return err
		}
		res.Completed = true
		res.CompletedAt = now

		res.PlanCompleted, err = e.markPlanDoneIfFinished(ctx, tx, req.Plan, now)
		return err
	})
	if err != nil {
		return CompleteResult{}, fmt.Errorf("complete %s/%s: %w", req.Plan, req.Step, err)
	}

	e.logger.Info("step completed",
		"plan", req.Plan,
		"step", req.Step,
		"owner", req.Owner,
		"commit", req.Commit,
		"forced", req.Force,
	)
	if res.PlanCompleted {
		e.logger.Info("plan completed", "plan", req.Plan)
	}
	return res, nil
}
