package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code categorizes coordination errors.
type Code string

const (
	// CodeBusy means the store lock could not be acquired in time. Retryable.
	CodeBusy Code = "BUSY"

	// CodeNotOwner means the caller does not hold the step.
	CodeNotOwner Code = "NOT_OWNER"

	// CodeWrongState means the operation is invalid for the step's status.
	CodeWrongState Code = "WRONG_STATE"

	// CodeNoReadySteps means nothing is claimable right now.
	CodeNoReadySteps Code = "NO_READY_STEPS"

	// CodeOpenItems means strict completion found unresolved checklist items.
	CodeOpenItems Code = "OPEN_ITEMS"

	// CodePlanDrifted means the plan document no longer hashes to the
	// value recorded at init. The remedy is re-initialization.
	CodePlanDrifted Code = "PLAN_DRIFTED"

	// CodeAlreadyCompleted means release or re-init was refused because
	// the step or plan is already finished.
	CodeAlreadyCompleted Code = "ALREADY_COMPLETED"

	// CodeSchemaMismatch means the store was written by an incompatible layout.
	CodeSchemaMismatch Code = "SCHEMA_MISMATCH"

	// CodeParseStructureInvalid means the parsed plan handed to init is malformed.
	CodeParseStructureInvalid Code = "PARSE_STRUCTURE_INVALID"

	CodePlanNotFound    Code = "PLAN_NOT_FOUND"
	CodeStepNotFound    Code = "STEP_NOT_FOUND"
	CodeItemNotFound    Code = "ITEM_NOT_FOUND"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Coded is implemented by every error in the taxonomy.
type Coded interface {
	error
	ErrorCode() Code
}

// Error is a coordination error with enough context for a caller to act
// without inspecting the store: which plan and step, whose lease, which hashes.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Plan and Step identify the affected record, when known.
	Plan string
	Step string

	// Owner is the caller identity the operation was attempted as.
	Owner string

	// Details contains additional context (holder, status, hashes, ...).
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Plan != "" {
		ctx = append(ctx, "plan="+e.Plan)
	}
	if e.Step != "" {
		ctx = append(ctx, "step="+e.Step)
	}
	if e.Owner != "" {
		ctx = append(ctx, "owner="+e.Owner)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// ErrorCode implements Coded.
func (e *Error) ErrorCode() Code { return e.Code }

// OpenItemsError is returned by strict completion when checklist items
// are neither completed nor deferred.
type OpenItemsError struct {
	Plan  string    `json:"plan"`
	Step  string    `json:"step"`
	Items []ItemRef `json:"items"`
}

// Error implements the error interface.
func (e *OpenItemsError) Error() string {
	refs := make([]string, len(e.Items))
	for i, it := range e.Items {
		refs[i] = fmt.Sprintf("%s#%d(%s)", it.Kind, it.Ordinal, it.Status)
	}
	return fmt.Sprintf("%s: step has %d unresolved checklist item(s): %s (plan=%s, step=%s)",
		CodeOpenItems, len(e.Items), strings.Join(refs, ", "), e.Plan, e.Step)
}

// ErrorCode implements Coded.
func (e *OpenItemsError) ErrorCode() Code { return CodeOpenItems }

// NoReadyStepsError is returned by claim when no step qualifies. It
// distinguishes a finished plan from one stuck on dependencies or leases.
type NoReadyStepsError struct {
	Plan         string        `json:"plan"`
	AllCompleted bool          `json:"all_completed"`
	Blocked      []BlockedStep `json:"blocked,omitempty"`
	Held         []HeldStep    `json:"held,omitempty"`
}

// Error implements the error interface.
func (e *NoReadyStepsError) Error() string {
	if e.AllCompleted {
		return fmt.Sprintf("%s: all steps completed (plan=%s)", CodeNoReadySteps, e.Plan)
	}
	blocked := make([]string, len(e.Blocked))
	for i, b := range e.Blocked {
		blocked[i] = fmt.Sprintf("%s<-[%s]", b.Anchor, strings.Join(b.WaitingOn, ","))
	}
	held := make([]string, len(e.Held))
	for i, h := range e.Held {
		held[i] = fmt.Sprintf("%s@%s", h.Anchor, h.Owner)
	}
	return fmt.Sprintf("%s: no claimable step; blocked=%v held=%v (plan=%s)",
		CodeNoReadySteps, blocked, held, e.Plan)
}

// ErrorCode implements Coded.
func (e *NoReadyStepsError) ErrorCode() Code { return CodeNoReadySteps }

// BlockedAnchors returns the anchors of the blocked steps.
func (e *NoReadyStepsError) BlockedAnchors() []string {
	out := make([]string, len(e.Blocked))
	for i, b := range e.Blocked {
		out[i] = b.Anchor
	}
	return out
}

// CodeOf returns the taxonomy code of err, or "" for uncategorized errors.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// IsBusy reports whether err is a lock-wait timeout.
func IsBusy(err error) bool { return CodeOf(err) == CodeBusy }

// IsNotOwner reports whether err is an ownership failure.
func IsNotOwner(err error) bool { return CodeOf(err) == CodeNotOwner }

// IsPlanDrifted reports whether err is a drift guard failure.
func IsPlanDrifted(err error) bool { return CodeOf(err) == CodePlanDrifted }

// IsNoReadySteps reports whether err means nothing is claimable.
func IsNoReadySteps(err error) bool { return CodeOf(err) == CodeNoReadySteps }

// Retryable reports whether the caller should simply try again.
func Retryable(err error) bool { return IsBusy(err) }

// NewBusyError wraps a lock-wait timeout.
func NewBusyError(op string, err error) *Error {
	return &Error{
		Code:    CodeBusy,
		Message: fmt.Sprintf("%s: store is locked by another writer; retry", op),
		Err:     err,
	}
}

// NewNotOwnerError reports that owner does not hold plan/step.
// holder is the recorded owner, empty when the step is unowned.
func NewNotOwnerError(plan, step, owner, holder string, status StepStatus) *Error {
	msg := "step is not held by caller"
	if holder != "" && holder != owner {
		msg = fmt.Sprintf("step is held by %s", holder)
	}
	return &Error{
		Code:    CodeNotOwner,
		Message: msg,
		Plan:    plan,
		Step:    step,
		Owner:   owner,
		Details: map[string]string{"holder": holder, "status": string(status)},
	}
}

// NewWrongStateError reports that op cannot run while the step is in status.
func NewWrongStateError(plan, step, op string, status StepStatus) *Error {
	return &Error{
		Code:    CodeWrongState,
		Message: fmt.Sprintf("cannot %s a step that is %s", op, status),
		Plan:    plan,
		Step:    step,
		Details: map[string]string{"status": string(status)},
	}
}

// NewPlanDriftedError reports a hash mismatch between the stored baseline
// and the current document.
func NewPlanDriftedError(plan, stored, current string, cause error) *Error {
	msg := fmt.Sprintf("plan document changed since init (stored %s, current %s); re-initialize",
		ShortHash(stored), ShortHash(current))
	if cause != nil {
		msg = fmt.Sprintf("plan document unreadable (stored %s); re-initialize", ShortHash(stored))
	}
	return &Error{
		Code:    CodePlanDrifted,
		Message: msg,
		Plan:    plan,
		Details: map[string]string{"stored_hash": stored, "current_hash": current},
		Err:     cause,
	}
}

// NewAlreadyCompletedError reports a refused release or re-init.
func NewAlreadyCompletedError(plan, step, msg string) *Error {
	return &Error{Code: CodeAlreadyCompleted, Message: msg, Plan: plan, Step: step}
}

// NewSchemaMismatchError reports an incompatible store layout.
func NewSchemaMismatchError(found, want int) *Error {
	return &Error{
		Code:    CodeSchemaMismatch,
		Message: fmt.Sprintf("store schema version %d, this build requires %d", found, want),
		Details: map[string]string{"found": fmt.Sprint(found), "want": fmt.Sprint(want)},
	}
}

// NewParseStructureError reports malformed init input.
func NewParseStructureError(msg string) *Error {
	return &Error{Code: CodeParseStructureInvalid, Message: msg}
}

// NewPlanNotFoundError reports an uninitialized plan.
func NewPlanNotFoundError(plan string) *Error {
	return &Error{Code: CodePlanNotFound, Message: "plan is not initialized", Plan: plan}
}

// NewStepNotFoundError reports an unknown step anchor.
func NewStepNotFoundError(plan, step string) *Error {
	return &Error{Code: CodeStepNotFound, Message: "no such step", Plan: plan, Step: step}
}

// NewItemNotFoundError reports an unknown (kind, ordinal) reference.
func NewItemNotFoundError(plan, step string, kind ItemKind, ordinal int) *Error {
	return &Error{
		Code:    CodeItemNotFound,
		Message: fmt.Sprintf("no checklist item %s#%d", kind, ordinal),
		Plan:    plan,
		Step:    step,
	}
}

// NewInvalidArgumentError reports a bad caller-supplied value.
func NewInvalidArgumentError(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg}
}

// SortHeld orders held steps by lease expiry, then anchor.
func SortHeld(held []HeldStep) {
	sort.SliceStable(held, func(i, j int) bool {
		if !held[i].LeaseExpiresAt.Equal(held[j].LeaseExpiresAt) {
			return held[i].LeaseExpiresAt.Before(held[j].LeaseExpiresAt)
		}
		return held[i].Anchor < held[j].Anchor
	})
}
