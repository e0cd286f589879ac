package engine

import (
	"context"
	"fmt"

	"github.com/roach88/stepwise/internal/ir"
	"github.com/roach88/stepwise/internal/store"
)

// ownerHolds is the single ownership predicate: the step is claimed or in
// progress and recorded as held by owner.
func ownerHolds(s ir.Step, owner string) bool {
	return s.Status.Held() && s.ClaimedBy != "" && s.ClaimedBy == owner
}

// requireOwner loads the step inside tx and fails with NOT_OWNER unless
// owner currently holds it. An expired lease that nobody has taken over
// yet still belongs to its owner.
func requireOwner(ctx context.Context, tx *store.Tx, plan, anchor, owner string) (ir.Step, error) {
	s, err := loadStep(ctx, tx, plan, anchor)
	if err != nil {
		return ir.Step{}, err
	}
	if !ownerHolds(s, owner) {
		return ir.Step{}, ir.NewNotOwnerError(plan, anchor, owner, s.ClaimedBy, s.Status)
	}
	return s, nil
}

// VerifyOwner reports whether owner currently holds plan/step. It runs in
// a read snapshot and changes nothing; mutating operations re-check inside
// their own transaction.
func (e *Engine) VerifyOwner(ctx context.Context, plan, step, owner string) (bool, error) {
	if err := requireArgs("plan", plan, "step", step, "owner", owner); err != nil {
		return false, err
	}
	var ok bool
	err := e.store.View(ctx, func(tx *store.Tx) error {
		s, err := loadStep(ctx, tx, plan, step)
		if err != nil {
			return err
		}
		ok = ownerHolds(s, owner)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("verify owner %s/%s: %w", plan, step, err)
	}
	return ok, nil
}
