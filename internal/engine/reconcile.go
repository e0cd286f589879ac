package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// ReconcileReason is recorded on steps closed from the commit log.
const ReconcileReason = "reconciled from commit log"

// minAbbrev is the shortest hash git will print with --abbrev.
const minAbbrev = 4

// Conflict is a step the store and the log disagree on.
type Conflict struct {
	Step        string `json:"step"`
	StoreCommit string `json:"store_commit"`
	LogCommit   string `json:"log_commit"`
	// Overwritten is set when force replaced the store's commit.
	Overwritten bool `json:"overwritten"`
}

// ReconcileResult reports what reconciliation changed.
type ReconcileResult struct {
	Plan       string     `json:"plan"`
	Reconciled []string   `json:"reconciled"`
	Unchanged  []string   `json:"unchanged"`
	Conflicts  []Conflict `json:"conflicts"`
	// Unknown lists log anchors with no matching step.
	Unknown       []string `json:"unknown"`
	PlanCompleted bool     `json:"plan_completed"`
}

// Reconcile replays ordered (step, commit) pairs from the version-control
// log into the store.
//
// A step that is not completed is marked completed with the entry's commit;
// any lease on it is dropped and its unfinished items are completed. A
// completed step with the same commit is unchanged; an abbreviated hash
// matches the full hash it abbreviates. A completed step with a
// different commit is a conflict: the store wins and a warning is logged,
// unless force is set, in which case the log's commit overwrites it.
// Entries are applied in order, so with force the last entry for a step wins.
func (e *Engine) Reconcile(ctx context.Context, plan string, entries []ir.LogEntry, force bool) (ReconcileResult, error) {
	if err := requireArgs("plan", plan); err != nil {
		return ReconcileResult{}, err
	}
	res := ReconcileResult{
		Plan:       plan,
		Reconciled: []string{},
		Unchanged:  []string{},
		Conflicts:  []Conflict{},
		Unknown:    []string{},
	}

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		p, err := loadPlan(ctx, tx, plan)
		if err != nil {
			return err
		}

		now := e.now()
		for _, entry := range entries {
			s, found, err := tx.GetStep(ctx, plan, entry.Step)
			if err != nil {
				return err
			}
			if !found {
				res.Unknown = append(res.Unknown, entry.Step)
				continue
			}

			if s.Status != ir.StepCompleted {
				if err := tx.ReconcileStep(ctx, plan, entry.Step, now, entry.Commit, ReconcileReason); err != nil {
					return err
				}
				if _, err := tx.CompleteUnfinishedItems(ctx, plan, entry.Step, now); err != nil {
					return err
				}
				res.Reconciled = append(res.Reconciled, entry.Step)
				continue
			}

			if sameCommit(s.CommitHash, entry.Commit) {
				res.Unchanged = append(res.Unchanged, entry.Step)
				continue
			}

			c := Conflict{Step: entry.Step, StoreCommit: s.CommitHash, LogCommit: entry.Commit}
			if force {
				if err := tx.SetStepCommit(ctx, plan, entry.Step, entry.Commit); err != nil {
					return err
				}
				c.Overwritten = true
			}
			res.Conflicts = append(res.Conflicts, c)
		}

		done, err := e.markPlanDoneIfFinished(ctx, tx, plan, now)
		res.PlanCompleted = done && p.Status != ir.PlanDone
		return err
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile %s: %w", plan, err)
	}

	for _, c := range res.Conflicts {
		e.logger.Warn("reconcile conflict",
			"plan", plan,
			"step", c.Step,
			"store_commit", c.StoreCommit,
			"log_commit", c.LogCommit,
			"overwritten", c.Overwritten,
		)
	}
	if len(res.Reconciled) > 0 {
		e.logger.Info("steps reconciled", "plan", plan, "steps", res.Reconciled)
	}
	return res, nil
}

// sameCommit reports whether a and b name the same commit, treating one
// as an abbreviation of the other when it is at least minAbbrev long.
func sameCommit(a, b string) bool {
	if a == b {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < minAbbrev {
		return false
	}
	return strings.HasPrefix(strings.ToLower(long), strings.ToLower(short))
}
