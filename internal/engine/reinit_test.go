package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepwise/internal/ir"
)

// threeStepPlan is twoStepPlan with an extra task on S1 and a new S3.
func threeStepPlan() ir.ParsedPlan {
	p := twoStepPlan()
	p.Title = "Demo v2"
	p.Steps[0].Tasks = append(p.Steps[0].Tasks, "vacuum")
	p.Steps = append(p.Steps, ir.ParsedStep{
		Anchor:      "S3",
		Title:       "Report",
		DependsOn:   []string{"S2"},
		Checkpoints: []string{"numbers reviewed"},
	})
	return p
}

func (f *fixture) reinit(p ir.ParsedPlan, force bool) (ReinitResult, error) {
	src := source(p)
	f.docs.set(demoPlan, src)
	return f.eng.Reinit(f.ctx, ReinitRequest{Plan: demoPlan, Source: src, Parsed: p, Force: force})
}

func TestReinit_PreservesCompletedReleasesHeld(t *testing.T) {
	f := newFixture(t)
	base := f.initPlan(twoStepPlan())

	f.mustClaim("A")
	_, err := f.eng.RecordArtifact(f.ctx, ArtifactRequest{Plan: demoPlan, Step: "S1", Owner: "A", Kind: "note", Summary: "done"})
	require.NoError(t, err)
	_, err = f.eng.Complete(f.ctx, CompleteRequest{Plan: demoPlan, Step: "S1", Owner: "A", Commit: "c1", Force: true})
	require.NoError(t, err)
	f.mustClaim("B")

	res, err := f.reinit(threeStepPlan(), false)
	require.NoError(t, err)

	assert.Equal(t, base.Hash, res.PreviousHash)
	assert.Equal(t, ir.PlanHash(source(threeStepPlan())), res.Hash)
	assert.Equal(t, 3, res.StepsCreated)
	assert.Equal(t, []string{"S1"}, res.Preserved)
	assert.Equal(t, []string{"S2"}, res.Released)
	assert.Empty(t, res.Dropped)
	assert.False(t, res.PlanCompleted)

	show := f.show()
	assert.Equal(t, "Demo v2", show.Plan.Title)
	assert.Equal(t, res.Hash, show.Plan.Hash)
	assert.False(t, show.Drift.Drifted)
	require.Len(t, show.Steps, 3)

	s1 := show.Steps[0]
	assert.Equal(t, ir.StepCompleted, s1.Status)
	assert.Equal(t, "c1", s1.CommitHash)
	assert.Equal(t, "A", s1.ClaimedBy)
	assert.Equal(t, Rollup{Total: 3, Completed: 3}, s1.Rollup[ir.KindTask], "new items on a completed step start completed")
	assert.Equal(t, 1, s1.Artifacts, "artifacts survive re-initialization")

	s2 := show.Steps[1]
	assert.Equal(t, ir.StepPending, s2.Status)
	assert.Empty(t, s2.ClaimedBy)

	s3 := show.Steps[2]
	assert.Equal(t, []string{"S2"}, s3.DependsOn)
	assert.Equal(t, 1, s3.Rollup[ir.KindCheckpoint].Open)

	next := f.mustClaim("C")
	assert.Equal(t, "S2", next.Step)
}

func TestReinit_DropsRemovedSteps(t *testing.T) {
	f := newFixture(t)
	f.initPlan(twoStepPlan())

	only := twoStepPlan()
	only.Steps = only.Steps[:1]
	res, err := f.reinit(only, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"S2"}, res.Dropped)
	assert.Len(t, f.show().Steps, 1)
}

func TestReinit_AllPreservedCompletesPlan(t *testing.T) {
	f := newFixture(t)
	f.initPlan(independentPlan(2))
	f.mustClaim("A")
	f.forceComplete("S1", "A")

	res, err := f.reinit(independentPlan(1), false)
	require.NoError(t, err)
	assert.True(t, res.PlanCompleted)
	assert.Equal(t, ir.PlanDone, f.show().Plan.Status)
}

func TestReinit_DonePlanNeedsForce(t *testing.T) {
	f := newFixture(t)
	f.initPlan(independentPlan(1))
	f.mustClaim("A")
	f.forceComplete("S1", "A")

	_, err := f.reinit(independentPlan(2), false)
	require.Error(t, err)
	assert.Equal(t, ir.CodeAlreadyCompleted, ir.CodeOf(err))

	res, err := f.reinit(independentPlan(2), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, res.Preserved)

	show := f.show()
	assert.Equal(t, ir.PlanActive, show.Plan.Status)
	assert.Equal(t, "S2", f.mustClaim("A").Step)
}

func TestReinit_UnknownPlanInitializes(t *testing.T) {
	f := newFixture(t)

	res, err := f.reinit(twoStepPlan(), false)
	require.NoError(t, err)
	assert.Empty(t, res.PreviousHash)
	assert.Equal(t, 2, res.StepsCreated)
	assert.Equal(t, ir.PlanActive, f.show().Plan.Status)
}

func TestReinit_InvalidStructureChangesNothing(t *testing.T) {
	f := newFixture(t)
	base := f.initPlan(twoStepPlan())

	bad := twoStepPlan()
	bad.Steps[0].DependsOn = []string{"S2"}
	_, err := f.eng.Reinit(f.ctx, ReinitRequest{Plan: demoPlan, Source: source(bad), Parsed: bad})
	assert.Equal(t, ir.CodeParseStructureInvalid, ir.CodeOf(err))

	assert.Equal(t, base.Hash, f.show().Plan.Hash)
}
