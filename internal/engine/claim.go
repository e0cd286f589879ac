package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// ClaimRequest asks for the next claimable step of a plan.
type ClaimRequest struct {
	Plan string
	// Owner identifies the worker. If empty, one is generated and
	// returned in ClaimResult.Owner.
	Owner string
	// Lease is the hold duration. Zero means the engine default.
	Lease time.Duration
	// Force takes over steps held under live leases.
	Force bool
}

// ClaimResult describes a successful claim.
type ClaimResult struct {
	Plan           string       `json:"plan"`
	Step           string       `json:"step"`
	Title          string       `json:"title"`
	Owner          string       `json:"owner"`
	ClaimedAt      time.Time    `json:"claimed_at"`
	LeaseExpiresAt time.Time    `json:"lease_expires_at"`
	Reclaimed      bool         `json:"reclaimed"`
	Resumed        bool         `json:"resumed"`
	PreviousOwner  string       `json:"previous_owner,omitempty"`
	ItemsReset     int          `json:"items_reset"`
	Items          []ir.ItemRef `json:"items"`
}

// Claim atomically selects and takes the lowest-index step that is
// pending, held under an expired lease, held by the same owner, or (with
// Force) held at all, and whose dependencies are all completed.
//
// Claim is drift-guarded. Taking a step over from a different owner
// resets its unfinished checklist items to open; completed items are kept.
// When nothing qualifies the error is an *ir.NoReadyStepsError that tells a
// finished plan from a blocked one.
func (e *Engine) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	if err := requireArgs("plan", req.Plan); err != nil {
		return ClaimResult{}, err
	}
	lease, err := e.leaseFor(req.Lease)
	if err != nil {
		return ClaimResult{}, err
	}
	owner := req.Owner
	if owner == "" {
		owner = e.NewOwner()
	}

	doc := e.hashDocument(req.Plan)
	var res ClaimResult

	err = e.store.Update(ctx, func(tx *store.Tx) error {
		p, err := loadPlan(ctx, tx, req.Plan)
		if err != nil {
			return err
		}
		if err := checkDrift(p, doc); err != nil {
			return err
		}

		now := e.now()
		step, found, err := tx.NextClaimable(ctx, req.Plan, owner, now, req.Force)
		if err != nil {
			return err
		}
		if !found {
			return e.noReadySteps(ctx, tx, req.Plan, now)
		}

		held := step.Status.Held()
		takeover := held && step.ClaimedBy != owner
		expired := held && step.LeaseExpired(now)

		res = ClaimResult{
			Plan:           req.Plan,
			Step:           step.Anchor,
			Title:          step.Title,
			Owner:          owner,
			ClaimedAt:      now,
			LeaseExpiresAt: now.Add(lease),
			Reclaimed:      takeover || expired,
			Resumed:        held && !takeover,
		}
		if takeover {
			res.PreviousOwner = step.ClaimedBy
			res.ItemsReset, err = tx.ResetUnfinishedItems(ctx, req.Plan, step.Anchor, now)
			if err != nil {
				return err
			}
		}
		if err := tx.ClaimStep(ctx, req.Plan, step.Anchor, owner, now, res.LeaseExpiresAt); err != nil {
			return err
		}

		items, err := tx.ListItems(ctx, req.Plan, step.Anchor)
		if err != nil {
			return err
		}
		res.Items = make([]ir.ItemRef, len(items))
		for i, it := range items {
			res.Items[i] = it.Ref()
		}
		return nil
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim %s: %w", req.Plan, err)
	}

	switch {
	case res.Reclaimed:
		e.logger.Info("step reclaimed",
			"plan", res.Plan,
			"step", res.Step,
			"owner", res.Owner,
			"previous_owner", res.PreviousOwner,
			"items_reset", res.ItemsReset,
		)
	case res.Resumed:
		e.logger.Info("step resumed", "plan", res.Plan, "step", res.Step, "owner", res.Owner)
	default:
		e.logger.Info("step claimed", "plan", res.Plan, "step", res.Step, "owner", res.Owner)
	}
	return res, nil
}

// noReadySteps builds the diagnostic error for a claim that found nothing.
func (e *Engine) noReadySteps(ctx context.Context, tx *store.Tx, plan string, now time.Time) error {
	sch, steps, err := loadSchedule(ctx, tx, plan, now)
	if err != nil {
		return err
	}
	return &ir.NoReadyStepsError{
		Plan:         plan,
		AllCompleted: len(sch.completed) == len(steps),
		Blocked:      sch.blocked,
		Held:         sch.held,
	}
}
