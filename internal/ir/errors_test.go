package ir

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := NewNotOwnerError("plans/a.yaml", "S1", "worker-b", "worker-a", StepInProgress)

	assert.Equal(t, "NOT_OWNER: step is held by worker-a (plan=plans/a.yaml, step=S1, owner=worker-b)", err.Error())
	assert.Equal(t, "worker-a", err.Details["holder"])
	assert.Equal(t, "in_progress", err.Details["status"])
}

func TestError_NotOwnerUnheld(t *testing.T) {
	err := NewNotOwnerError("p", "S1", "worker-b", "", StepPending)
	assert.Contains(t, err.Error(), "step is not held by caller")
}

func TestCodeOf_Wrapped(t *testing.T) {
	base := NewPlanDriftedError("p", "aaaa", "bbbb", nil)
	wrapped := fmt.Errorf("claim: %w", base)

	assert.Equal(t, CodePlanDrifted, CodeOf(wrapped))
	assert.True(t, IsPlanDrifted(wrapped))
	assert.False(t, IsBusy(wrapped))
}

func TestCodeOf_Uncategorized(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestBusyError_Retryable(t *testing.T) {
	cause := errors.New("database is locked")
	err := fmt.Errorf("complete: %w", NewBusyError("complete", cause))

	assert.True(t, Retryable(err))
	assert.ErrorIs(t, err, cause)
}

func TestOpenItemsError(t *testing.T) {
	err := &OpenItemsError{
		Plan: "p",
		Step: "S1",
		Items: []ItemRef{
			{Kind: KindTask, Ordinal: 2, Status: ItemOpen},
			{Kind: KindTest, Ordinal: 1, Status: ItemInProgress},
		},
	}

	assert.Equal(t, CodeOpenItems, CodeOf(err))
	assert.Contains(t, err.Error(), "task#2(open), test#1(in_progress)")
}

func TestNoReadyStepsError(t *testing.T) {
	done := &NoReadyStepsError{Plan: "p", AllCompleted: true}
	assert.True(t, IsNoReadySteps(done))
	assert.Contains(t, done.Error(), "all steps completed")

	stuck := &NoReadyStepsError{
		Plan:    "p",
		Blocked: []BlockedStep{{Anchor: "S2", WaitingOn: []string{"S1"}}},
		Held:    []HeldStep{{Anchor: "S1", Owner: "A", LeaseExpiresAt: time.Unix(0, 0)}},
	}
	assert.Equal(t, []string{"S2"}, stuck.BlockedAnchors())
	assert.Contains(t, stuck.Error(), "S2<-[S1]")
	assert.Contains(t, stuck.Error(), "S1@A")
}

func TestPlanDriftedError_Unreadable(t *testing.T) {
	err := NewPlanDriftedError("p", "0123456789abcdef", "", errors.New("no such file"))
	assert.Contains(t, err.Error(), "unreadable")
	assert.Contains(t, err.Error(), "no such file")
}

func TestStepLeaseExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, Step{Status: StepClaimed, LeaseExpiresAt: &past}.LeaseExpired(now))
	assert.True(t, Step{Status: StepInProgress, LeaseExpiresAt: &now}.LeaseExpired(now))
	assert.False(t, Step{Status: StepClaimed, LeaseExpiresAt: &future}.LeaseExpired(now))
	assert.False(t, Step{Status: StepPending}.LeaseExpired(now))
	assert.False(t, Step{Status: StepCompleted, LeaseExpiresAt: &past}.LeaseExpired(now))
}

func TestSortHeld(t *testing.T) {
	t0 := time.Unix(100, 0)
	held := []HeldStep{
		{Anchor: "B", LeaseExpiresAt: t0.Add(time.Minute)},
		{Anchor: "C", LeaseExpiresAt: t0},
		{Anchor: "A", LeaseExpiresAt: t0},
	}
	SortHeld(held)
	assert.Equal(t, "A", held[0].Anchor)
	assert.Equal(t, "C", held[1].Anchor)
	assert.Equal(t, "B", held[2].Anchor)
}
