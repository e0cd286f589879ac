package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// StartResult reports a claimed -> in_progress transition.
type StartResult struct {
	Plan      string    `json:"plan"`
	Step      string    `json:"step"`
	Owner     string    `json:"owner"`
	StartedAt time.Time `json:"started_at"`
}

// Start moves a claimed step to in_progress. Ownership-gated; fails with
// WRONG_STATE if the step is not currently claimed.
func (e *Engine) Start(ctx context.Context, plan, step, owner string) (StartResult, error) {
	if err := requireArgs("plan", plan, "step", step, "owner", owner); err != nil {
		return StartResult{}, err
	}
	res := StartResult{Plan: plan, Step: step, Owner: owner}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		s, err := requireOwner(ctx, tx, plan, step, owner)
		if err != nil {
			return err
		}
		if s.Status != ir.StepClaimed {
			return ir.NewWrongStateError(plan, step, "start", s.Status)
		}
		res.StartedAt = e.now()
		return tx.StartStep(ctx, plan, step, res.StartedAt)
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("start %s/%s: %w", plan, step, err)
	}

	e.logger.Info("step started", "plan", plan, "step", step, "owner", owner)
	return res, nil
}

// HeartbeatResult carries the renewed lease.
type HeartbeatResult struct {
	Plan           string    `json:"plan"`
	Step           string    `json:"step"`
	Owner          string    `json:"owner"`
	HeartbeatAt    time.Time `json:"heartbeat_at"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// Heartbeat extends the caller's lease to now + lease and stamps the
// heartbeat. Ownership-gated. Callers should heartbeat at roughly half the
// lease duration.
func (e *Engine) Heartbeat(ctx context.Context, plan, step, owner string, lease time.Duration) (HeartbeatResult, error) {
	if err := requireArgs("plan", plan, "step", step, "owner", owner); err != nil {
		return HeartbeatResult{}, err
	}
	lease, err := e.leaseFor(lease)
	if err != nil {
		return HeartbeatResult{}, err
	}
	res := HeartbeatResult{Plan: plan, Step: step, Owner: owner}

	err = e.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := requireOwner(ctx, tx, plan, step, owner); err != nil {
			return err
		}
		res.HeartbeatAt = e.now()
		res.LeaseExpiresAt = res.HeartbeatAt.Add(lease)
		return tx.ExtendLease(ctx, plan, step, res.HeartbeatAt, res.LeaseExpiresAt)
	})
	if err != nil {
		return HeartbeatResult{}, fmt.Errorf("heartbeat %s/%s: %w", plan, step, err)
	}

	e.logger.Debug("lease extended",
		"plan", plan,
		"step", step,
		"owner", owner,
		"lease_expires_at", res.LeaseExpiresAt,
	)
	return res, nil
}

// ReleaseRequest frees a held step.
type ReleaseRequest struct {
	Plan  string
	Step  string
	Owner string
	// Admin releases regardless of who holds the step.
	Admin bool
}

// ReleaseResult reports what release changed.
type ReleaseResult struct {
	Plan          string `json:"plan"`
	Step          string `json:"step"`
	Released      bool   `json:"released"`
	PreviousOwner string `json:"previous_owner,omitempty"`
	ItemsReset    int    `json:"items_reset"`
}

// Release returns a step to pending, clears ownership and resets its
// unfinished items to open.
//
// Without Admin the caller must hold the step. With Admin anyone may
// release it, which is the escape hatch for a step stranded by a crashed
// worker; an admin release of a pending step changes nothing. Completed
// steps are refused with ALREADY_COMPLETED.
func (e *Engine) Release(ctx context.Context, req ReleaseRequest) (ReleaseResult, error) {
	if err := requireArgs("plan", req.Plan, "step", req.Step); err != nil {
		return ReleaseResult{}, err
	}
	if !req.Admin {
		if err := requireArgs("owner", req.Owner); err != nil {
			return ReleaseResult{}, err
		}
	}
	res := ReleaseResult{Plan: req.Plan, Step: req.Step}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		s, err := loadStep(ctx, tx, req.Plan, req.Step)
		if err != nil {
			return err
		}
		if s.Status == ir.StepCompleted {
			return ir.NewAlreadyCompletedError(req.Plan, req.Step, "step is completed and cannot be released")
		}
		if !req.Admin && !ownerHolds(s, req.Owner) {
			return ir.NewNotOwnerError(req.Plan, req.Step, req.Owner, s.ClaimedBy, s.Status)
		}
		if !s.Status.Held() {
			return nil
		}

		now := e.now()
		if err := tx.ReleaseStep(ctx, req.Plan, req.Step); err != nil {
			return err
		}
		res.ItemsReset, err = tx.ResetUnfinishedItems(ctx, req.Plan, req.Step, now)
		if err != nil {
			return err
		}
		res.Released = true
		res.PreviousOwner = s.ClaimedBy
		return nil
	})
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("release %s/%s: %w", req.Plan, req.Step, err)
	}

	if res.Released {
		e.logger.Info("step released",
			"plan", req.Plan,
			"step", req.Step,
			"previous_owner", res.PreviousOwner,
			"admin", req.Admin,
		)
	}
	return res, nil
}
