package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// InitResult reports what Init wrote.
type InitResult struct {
	Plan                string `json:"plan"`
	Hash                string `json:"hash"`
	AlreadyInitialized  bool   `json:"already_initialized"`
	StepsCreated        int    `json:"steps_created"`
	DependenciesCreated int    `json:"dependencies_created"`
	ItemsCreated        int    `json:"items_created"`
}

// Init loads a parsed plan as a fresh coordination record.
//
// source is the raw plan document; its hash becomes the drift baseline.
// If a record already exists at plan, nothing is written and
// AlreadyInitialized is true. Otherwise the plan row, steps (indexed in
// document order), dependency edges and checklist items are inserted in
// one transaction.
func (e *Engine) Init(ctx context.Context, plan string, source []byte, parsed ir.ParsedPlan) (InitResult, error) {
	if err := requireArgs("plan", plan); err != nil {
		return InitResult{}, err
	}
	if err := ir.ValidatePlan(parsed); err != nil {
		return InitResult{}, fmt.Errorf("init %s: %w", plan, err)
	}

	hash := ir.PlanHash(source)
	res := InitResult{Plan: plan, Hash: hash}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		existing, found, err := tx.GetPlan(ctx, plan)
		if err != nil {
			return err
		}
		if found {
			res.AlreadyInitialized = true
			res.Hash = existing.Hash
			return nil
		}

		now := e.now()
		if err := tx.InsertPlan(ctx, ir.Plan{
			Path:      plan,
			Hash:      hash,
			Title:     parsed.Title,
			Status:    ir.PlanActive,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		counts, err := insertStructure(ctx, tx, plan, parsed, now, nil)
		if err != nil {
			return err
		}
		res.StepsCreated = counts.steps
		res.DependenciesCreated = counts.deps
		res.ItemsCreated = counts.items
		return nil
	})
	if err != nil {
		return InitResult{}, fmt.Errorf("init %s: %w", plan, err)
	}

	if res.AlreadyInitialized {
		e.logger.Debug("plan already initialized", "plan", plan, "hash", ir.ShortHash(res.Hash))
	} else {
		e.logger.Info("plan initialized",
			"plan", plan,
			"hash", ir.ShortHash(hash),
			"steps", res.StepsCreated,
			"items", res.ItemsCreated,
		)
	}
	return res, nil
}

// ReinitRequest replaces a plan's structure after its document changed.
type ReinitRequest struct {
	Plan   string
	Source []byte
	Parsed ir.ParsedPlan
	// Force allows re-initializing a plan that is already done.
	Force bool
}

// ReinitResult reports how the old structure mapped onto the new one.
type ReinitResult struct {
	Plan         string `json:"plan"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
	StepsCreated int    `json:"steps_created"`
	// Preserved lists completed steps whose anchors survived and kept
	// their completion record.
	Preserved []string `json:"preserved"`
	// Released lists steps that were held and are pending again.
	Released []string `json:"released"`
	// Dropped lists anchors no longer present in the document.
	Dropped       []string `json:"dropped"`
	PlanCompleted bool     `json:"plan_completed"`
}

// Reinit is the deliberate remedy for PLAN_DRIFTED. In one transaction it
// deletes the plan's steps, edges and items, inserts the new structure and
// records the new hash as the baseline.
//
// Completed steps whose anchors survive keep their completion (status,
// commit, timestamps, reason) and all of their items are marked completed.
// Every other step starts pending; held leases are dropped. Artifacts are
// never deleted. A plan that is done is refused with ALREADY_COMPLETED
// unless Force is set. An unknown plan is initialized.
func (e *Engine) Reinit(ctx context.Context, req ReinitRequest) (ReinitResult, error) {
	if err := requireArgs("plan", req.Plan); err != nil {
		return ReinitResult{}, err
	}
	if err := ir.ValidatePlan(req.Parsed); err != nil {
		return ReinitResult{}, fmt.Errorf("reinit %s: %w", req.Plan, err)
	}

	hash := ir.PlanHash(req.Source)
	res := ReinitResult{
		Plan:      req.Plan,
		Hash:      hash,
		Preserved: []string{},
		Released:  []string{},
		Dropped:   []string{},
	}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		now := e.now()
		p, found, err := tx.GetPlan(ctx, req.Plan)
		if err != nil {
			return err
		}
		if !found {
			if err := tx.InsertPlan(ctx, ir.Plan{
				Path: req.Plan, Hash: hash, Title: req.Parsed.Title,
				Status: ir.PlanActive, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
			counts, err := insertStructure(ctx, tx, req.Plan, req.Parsed, now, nil)
			res.StepsCreated = counts.steps
			return err
		}
		if p.Status == ir.PlanDone && !req.Force {
			return ir.NewAlreadyCompletedError(req.Plan, "", "plan is done; use force to re-initialize")
		}
		res.PreviousHash = p.Hash

		old, err := tx.ListSteps(ctx, req.Plan)
		if err != nil {
			return err
		}
		keep := make(map[string]ir.Step)
		wanted := make(map[string]bool, len(req.Parsed.Steps))
		for _, s := range req.Parsed.Steps {
			wanted[s.Anchor] = true
		}
		for _, s := range old {
			switch {
			case !wanted[s.Anchor]:
				res.Dropped = append(res.Dropped, s.Anchor)
			case s.Status == ir.StepCompleted:
				keep[s.Anchor] = s
				res.Preserved = append(res.Preserved, s.Anchor)
			case s.Status.Held():
				res.Released = append(res.Released, s.Anchor)
			}
		}

		if err := tx.DeletePlanStructure(ctx, req.Plan); err != nil {
			return err
		}
		if err := tx.ReplacePlanBaseline(ctx, req.Plan, hash, req.Parsed.Title, now); err != nil {
			return err
		}
		counts, err := insertStructure(ctx, tx, req.Plan, req.Parsed, now, keep)
		if err != nil {
			return err
		}
		res.StepsCreated = counts.steps

		res.PlanCompleted, err = e.markPlanDoneIfFinished(ctx, tx, req.Plan, now)
		return err
	})
	if err != nil {
		return ReinitResult{}, fmt.Errorf("reinit %s: %w", req.Plan, err)
	}

	e.logger.Info("plan re-initialized",
		"plan", req.Plan,
		"previous_hash", ir.ShortHash(res.PreviousHash),
		"hash", ir.ShortHash(hash),
		"preserved", len(res.Preserved),
		"released", len(res.Released),
		"dropped", len(res.Dropped),
	)
	return res, nil
}

type structureCounts struct {
	steps, deps, items int
}

// insertStructure writes steps, edges and items for parsed. Steps named in
// completed are written back with their completion record and fully
// completed checklists.
func insertStructure(ctx context.Context, tx *store.Tx, plan string, parsed ir.ParsedPlan, now time.Time, completed map[string]ir.Step) (structureCounts, error) {
	var c structureCounts

	for i, ps := range parsed.Steps {
		step := ir.Step{
			Plan:   plan,
			Anchor: ps.Anchor,
			Index:  i,
			Title:  ps.Title,
			Status: ir.StepPending,
		}
		itemStatus := ir.ItemOpen
		if prev, ok := completed[ps.Anchor]; ok {
			step.Status = ir.StepCompleted
			step.ClaimedBy = prev.ClaimedBy
			step.ClaimedAt = prev.ClaimedAt
			step.LeaseExpiresAt = prev.LeaseExpiresAt
			step.HeartbeatAt = prev.HeartbeatAt
			step.StartedAt = prev.StartedAt
			step.CompletedAt = prev.CompletedAt
			step.CommitHash = prev.CommitHash
			step.CompleteReason = prev.CompleteReason
			itemStatus = ir.ItemCompleted
		}
		if err := tx.InsertStep(ctx, step); err != nil {
			return c, err
		}
		c.steps++

		for _, kind := range ir.ItemKinds {
			for n, text := range ps.Items()[kind] {
				if _, err := tx.InsertItem(ctx, ir.ChecklistItem{
					Plan:      plan,
					Step:      ps.Anchor,
					Kind:      kind,
					Ordinal:   n + 1,
					Text:      text,
					Status:    itemStatus,
					UpdatedAt: now,
				}); err != nil {
					return c, err
				}
				c.items++
			}
		}
	}

	// Edges go in after every step row exists so forward references resolve.
	for _, ps := range parsed.Steps {
		for _, dep := range ps.DependsOn {
			if err := tx.InsertDependency(ctx, plan, ps.Anchor, dep); err != nil {
				return c, err
			}
			c.deps++
		}
	}
	return c, nil
}
