package ir

import "time"

// PlanStatus is the lifecycle state of a coordination record.
type PlanStatus string

const (
	PlanActive PlanStatus = "active"
	PlanDone   PlanStatus = "done"
)

// StepStatus is the lifecycle state of a single step.
//
// pending -(claim)-> claimed -(start)-> in_progress -(complete)-> completed.
// claimed and in_progress return to pending through release, and are taken
// over in place by an expired-lease or forced claim. completed is terminal.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepClaimed    StepStatus = "claimed"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// Held reports whether the status carries an owner and a lease.
func (s StepStatus) Held() bool {
	return s == StepClaimed || s == StepInProgress
}

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepClaimed, StepInProgress, StepCompleted:
		return true
	}
	return false
}

// ItemKind groups checklist items. Ordinals are unique within a kind.
type ItemKind string

const (
	KindTask       ItemKind = "task"
	KindTest       ItemKind = "test"
	KindCheckpoint ItemKind = "checkpoint"
)

// ItemKinds lists the kinds in display order.
var ItemKinds = []ItemKind{KindTask, KindTest, KindCheckpoint}

// Valid reports whether k is a known item kind.
func (k ItemKind) Valid() bool {
	switch k {
	case KindTask, KindTest, KindCheckpoint:
		return true
	}
	return false
}

// ItemStatus is the state of one checklist item.
type ItemStatus string

const (
	ItemOpen       ItemStatus = "open"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	// ItemDeferred marks an item left for out-of-band verification.
	// It does not block strict completion.
	ItemDeferred ItemStatus = "deferred"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemOpen, ItemInProgress, ItemCompleted, ItemDeferred:
		return true
	}
	return false
}

// Resolved reports whether the item no longer blocks strict completion.
func (s ItemStatus) Resolved() bool {
	return s == ItemCompleted || s == ItemDeferred
}

// Plan is one coordination session, keyed by the plan document path.
type Plan struct {
	Path      string     `json:"path"`
	Hash      string     `json:"hash"`
	Title     string     `json:"title,omitempty"`
	Status    PlanStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Step is one independently claimable unit of work.
//
// ClaimedBy, ClaimedAt and LeaseExpiresAt are all set or all empty.
// CommitHash is only set once Status is completed.
type Step struct {
	Plan           string     `json:"plan"`
	Anchor         string     `json:"anchor"`
	Index          int        `json:"index"`
	Title          string     `json:"title"`
	Status         StepStatus `json:"status"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CommitHash     string     `json:"commit_hash,omitempty"`
	CompleteReason string     `json:"complete_reason,omitempty"`
}

// LeaseExpired reports whether a held step's lease has run out at now.
// Steps without a lease are never expired.
func (s Step) LeaseExpired(now time.Time) bool {
	if !s.Status.Held() || s.LeaseExpiresAt == nil {
		return false
	}
	return !s.LeaseExpiresAt.After(now)
}

// ChecklistItem is one task, test or checkpoint belonging to a step.
type ChecklistItem struct {
	ID        int64      `json:"id"`
	Plan      string     `json:"plan"`
	Step      string     `json:"step"`
	Kind      ItemKind   `json:"kind"`
	Ordinal   int        `json:"ordinal"`
	Text      string     `json:"text"`
	Status    ItemStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Ref returns the item's (kind, ordinal) reference.
func (i ChecklistItem) Ref() ItemRef {
	return ItemRef{Kind: i.Kind, Ordinal: i.Ordinal, Text: i.Text, Status: i.Status}
}

// ItemRef identifies a checklist item within its step.
type ItemRef struct {
	Kind    ItemKind   `json:"kind"`
	Ordinal int        `json:"ordinal"`
	Text    string     `json:"text,omitempty"`
	Status  ItemStatus `json:"status,omitempty"`
}

// Artifact is an append-only audit breadcrumb attached to a step.
type Artifact struct {
	ID         int64     `json:"id"`
	Plan       string    `json:"plan"`
	Step       string    `json:"step"`
	Kind       string    `json:"kind"`
	Summary    string    `json:"summary"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LogEntry pairs a step anchor with the commit that completed it,
// as extracted from trailer-tagged version-control history.
type LogEntry struct {
	Step   string `json:"step"`
	Commit string `json:"commit"`
}

// BlockedStep is an unfinished step waiting on incomplete dependencies.
type BlockedStep struct {
	Anchor    string   `json:"anchor"`
	WaitingOn []string `json:"waiting_on"`
}

// HeldStep is a step under an active lease.
type HeldStep struct {
	Anchor         string     `json:"anchor"`
	Status         StepStatus `json:"status"`
	Owner          string     `json:"owner"`
	LeaseExpiresAt time.Time  `json:"lease_expires_at"`
}
