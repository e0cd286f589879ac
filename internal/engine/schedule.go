package engine

import (
	"context"
	"time"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// ReadyStep is a step claim would consider right now.
type ReadyStep struct {
	Anchor string `json:"anchor"`
	Index  int    `json:"index"`
	Title  string `json:"title"`
	// Expired is set when the step is held under a lease that has run out.
	Expired       bool   `json:"expired,omitempty"`
	PreviousOwner string `json:"previous_owner,omitempty"`
}

// schedule partitions a plan's steps the way claim sees them.
type schedule struct {
	ready     []ReadyStep
	completed []string
	blocked   []ir.BlockedStep
	held      []ir.HeldStep
}

// buildSchedule applies the readiness predicate to every step: pending or
// expired, with all dependencies completed. Live leases are reported as
// held; unfinished steps with incomplete dependencies as blocked.
func buildSchedule(steps []ir.Step, deps map[string][]string, now time.Time) schedule {
	status := make(map[string]ir.StepStatus, len(steps))
	for _, s := range steps {
		status[s.Anchor] = s.Status
	}

	sch := schedule{
		ready:     []ReadyStep{},
		completed: []string{},
		blocked:   []ir.BlockedStep{},
		held:      []ir.HeldStep{},
	}
	for _, s := range steps {
		if s.Status == ir.StepCompleted {
			sch.completed = append(sch.completed, s.Anchor)
			continue
		}
		if s.Status.Held() && !s.LeaseExpired(now) {
			h := ir.HeldStep{Anchor: s.Anchor, Status: s.Status, Owner: s.ClaimedBy}
			if s.LeaseExpiresAt != nil {
				h.LeaseExpiresAt = *s.LeaseExpiresAt
			}
			sch.held = append(sch.held, h)
			continue
		}

		var waiting []string
		for _, d := range deps[s.Anchor] {
			if status[d] != ir.StepCompleted {
				waiting = append(waiting, d)
			}
		}
		if len(waiting) > 0 {
			sch.blocked = append(sch.blocked, ir.BlockedStep{Anchor: s.Anchor, WaitingOn: waiting})
			continue
		}

		r := ReadyStep{Anchor: s.Anchor, Index: s.Index, Title: s.Title}
		if s.Status.Held() {
			r.Expired = true
			r.PreviousOwner = s.ClaimedBy
		}
		sch.ready = append(sch.ready, r)
	}
	ir.SortHeld(sch.held)
	return sch
}

// loadSchedule reads steps and edges inside tx and partitions them.
func loadSchedule(ctx context.Context, tx *store.Tx, plan string, now time.Time) (schedule, []ir.Step, error) {
	steps, err := tx.ListSteps(ctx, plan)
	if err != nil {
		return schedule{}, nil, err
	}
	deps, err := tx.ListDependencies(ctx, plan)
	if err != nil {
		return schedule{}, nil, err
	}
	return buildSchedule(steps, deps, now), steps, nil
}
