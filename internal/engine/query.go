package engine

import (
	"context"
	"fmt"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// ReadyResult is the read-only view of what claim would see.
type ReadyResult struct {
	Plan         string           `json:"plan"`
	Status       ir.PlanStatus    `json:"status"`
	Ready        []ReadyStep      `json:"ready"`
	Completed    []string         `json:"completed"`
	Blocked      []ir.BlockedStep `json:"blocked"`
	Held         []ir.HeldStep    `json:"held"`
	AllCompleted bool             `json:"all_completed"`
}

// Ready lists steps that are pending or expired with dependencies met, in
// claim order, alongside the completed, blocked and held sets. It never
// writes.
func (e *Engine) Ready(ctx context.Context, plan string) (ReadyResult, error) {
	if err := requireArgs("plan", plan); err != nil {
		return ReadyResult{}, err
	}
	var res ReadyResult

	err := e.store.View(ctx, func(tx *store.Tx) error {
		p, err := loadPlan(ctx, tx, plan)
		if err != nil {
			return err
		}
		sch, steps, err := loadSchedule(ctx, tx, plan, e.now())
		if err != nil {
			return err
		}
		res = ReadyResult{
			Plan:         plan,
			Status:       p.Status,
			Ready:        sch.ready,
			Completed:    sch.completed,
			Blocked:      sch.blocked,
			Held:         sch.held,
			AllCompleted: len(sch.completed) == len(steps),
		}
		return nil
	})
	if err != nil {
		return ReadyResult{}, fmt.Errorf("ready %s: %w", plan, err)
	}
	return res, nil
}

// StepDetail is one step with its checklist, for Show.
type StepDetail struct {
	ir.Step
	DependsOn []string               `json:"depends_on"`
	Items     []ir.ChecklistItem     `json:"items"`
	Rollup    map[ir.ItemKind]Rollup `json:"rollup"`
	Artifacts int                    `json:"artifacts"`
	Expired   bool                   `json:"expired,omitempty"`
}

// ShowResult is the full progress view of a plan.
type ShowResult struct {
	Plan           ir.Plan      `json:"plan"`
	Steps          []StepDetail `json:"steps"`
	StepsTotal     int          `json:"steps_total"`
	StepsCompleted int          `json:"steps_completed"`
	Items          Rollup       `json:"items"`
	Drift          DriftStatus  `json:"drift"`
}

// Show returns per-step status with item detail and rollups, plus an
// informational drift report. Drift does not fail Show.
func (e *Engine) Show(ctx context.Context, plan string) (ShowResult, error) {
	if err := requireArgs("plan", plan); err != nil {
		return ShowResult{}, err
	}
	doc := e.hashDocument(plan)
	var res ShowResult

	err := e.store.View(ctx, func(tx *store.Tx) error {
		p, err := loadPlan(ctx, tx, plan)
		if err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, plan)
		if err != nil {
			return err
		}
		deps, err := tx.ListDependencies(ctx, plan)
		if err != nil {
			return err
		}
		items, err := tx.ListPlanItems(ctx, plan)
		if err != nil {
			return err
		}
		artifacts, err := tx.CountArtifacts(ctx, plan)
		if err != nil {
			return err
		}

		now := e.now()
		res = ShowResult{
			Plan:       p,
			Steps:      make([]StepDetail, 0, len(steps)),
			StepsTotal: len(steps),
			Drift:      driftStatus(p, doc),
		}
		for _, s := range steps {
			stepItems := items[s.Anchor]
			if stepItems == nil {
				stepItems = []ir.ChecklistItem{}
			}
			stepDeps := deps[s.Anchor]
			if stepDeps == nil {
				stepDeps = []string{}
			}
			res.Steps = append(res.Steps, StepDetail{
				Step:      s,
				DependsOn: stepDeps,
				Items:     stepItems,
				Rollup:    rollupByKind(stepItems),
				Artifacts: artifacts[s.Anchor],
				Expired:   s.LeaseExpired(now),
			})
			if s.Status == ir.StepCompleted {
				res.StepsCompleted++
			}
			for _, it := range stepItems {
				res.Items.add(it.Status)
			}
		}
		return nil
	})
	if err != nil {
		return ShowResult{}, fmt.Errorf("show %s: %w", plan, err)
	}
	return res, nil
}

// Plans lists every initialized plan.
func (e *Engine) Plans(ctx context.Context) ([]ir.Plan, error) {
	var plans []ir.Plan
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		plans, err = tx.ListPlans(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// Artifacts returns a step's audit trail in recording order.
func (e *Engine) Artifacts(ctx context.Context, plan, step string) ([]ir.Artifact, error) {
	if err := requireArgs("plan", plan, "step", step); err != nil {
		return nil, err
	}
	var list []ir.Artifact
	err := e.store.View(ctx, func(tx *store.Tx) error {
		if _, err := loadStep(ctx, tx, plan, step); err != nil {
			return err
		}
		var err error
		list, err = tx.ListArtifacts(ctx, plan, step)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts %s/%s: %w", plan, step, err)
	}
	return list, nil
}
