package harness

import (
	"github.com/roach88/stepwise/internal/engine"
)

// OutcomeOK is the trace outcome of an operation that succeeded. Failed
// operations record their error code instead.
const OutcomeOK = "ok"

// outcomeUncoded marks failures that carry no taxonomy code.
const outcomeUncoded = "ERROR"

// TraceEvent records one flow operation and what it returned.
type TraceEvent struct {
	Seq int    `json:"seq"`
	Op  string `json:"op"`
	// Step is the step the operation acted on. For a successful claim it
	// is the step that was granted.
	Step string `json:"step,omitempty"`
	// Owner is the acting worker, including owners generated by claim.
	Owner   string         `json:"owner,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Error   string         `json:"error,omitempty"`
	// Result is the operation's result in its JSON form.
	Result any `json:"result,omitempty"`
}

// OK reports whether the operation succeeded.
func (e TraceEvent) OK() bool {
	return e.Outcome == OutcomeOK
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the flow operations in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains one message per failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// Final is the plan's state after the flow, or nil if the plan was
	// never initialized.
	Final *engine.ShowResult `json:"final,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
