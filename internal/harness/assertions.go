package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/stepwise/internal/engine"
)

// AssertionError provides detailed information about assertion failures.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface with detailed failure information.
func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "assertion %s failed\n", e.Type)
	fmt.Fprintf(&b, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  actual:   %s\n", e.Actual)
	if len(e.Trace) > 0 {
		b.WriteString("  trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&b, "    [%d] %s", ev.Seq, describe(ev))
			if ev.Owner != "" {
				fmt.Fprintf(&b, " by %s", ev.Owner)
			}
			fmt.Fprintf(&b, " -> %s\n", ev.Outcome)
		}
	}
	return b.String()
}

// describe renders an event as "op" or "op:step".
func describe(ev TraceEvent) string {
	if ev.Step == "" {
		return ev.Op
	}
	return ev.Op + ":" + ev.Step
}

// matchesDescriptor reports whether ev matches "op" or "op:step".
func matchesDescriptor(ev TraceEvent, descriptor string) bool {
	op, step, hasStep := strings.Cut(descriptor, ":")
	if ev.Op != op {
		return false
	}
	return !hasStep || ev.Step == step
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertStepStatus:
			err = assertStepStatus(result, assertion)
		case AssertPlanStatus:
			err = assertPlanStatus(result, assertion)
		case AssertItemStatus:
			err = assertItemStatus(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %s", i, err.Error()))
		}
	}

	return errors
}

func findStep(result *Result, anchor string) (engine.StepDetail, error) {
	if result.Final == nil {
		return engine.StepDetail{}, fmt.Errorf("plan was never initialized")
	}
	for _, s := range result.Final.Steps {
		if s.Anchor == anchor {
			return s, nil
		}
	}
	return engine.StepDetail{}, fmt.Errorf("step %s not found in final state", anchor)
}

// assertStepStatus checks a step's final status and, if given, its holder.
func assertStepStatus(result *Result, a Assertion) error {
	s, err := findStep(result, a.Step)
	if err != nil {
		return err
	}
	if string(s.Status) != a.Status {
		return &AssertionError{
			Type:     AssertStepStatus,
			Expected: fmt.Sprintf("step %s %s", a.Step, a.Status),
			Actual:   string(s.Status),
			Trace:    result.Trace,
		}
	}
	if a.Owner != "" && s.ClaimedBy != a.Owner {
		return &AssertionError{
			Type:     AssertStepStatus,
			Expected: fmt.Sprintf("step %s held by %s", a.Step, a.Owner),
			Actual:   fmt.Sprintf("held by %q", s.ClaimedBy),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertPlanStatus(result *Result, a Assertion) error {
	if result.Final == nil {
		return fmt.Errorf("plan was never initialized")
	}
	if string(result.Final.Plan.Status) != a.Status {
		return &AssertionError{
			Type:     AssertPlanStatus,
			Expected: a.Status,
			Actual:   string(result.Final.Plan.Status),
		}
	}
	return nil
}

func assertItemStatus(result *Result, a Assertion) error {
	s, err := findStep(result, a.Step)
	if err != nil {
		return err
	}
	kind, ordinal, err := parseItemRef(a.Item)
	if err != nil {
		return err
	}
	for _, it := range s.Items {
		if it.Kind != kind || it.Ordinal != ordinal {
			continue
		}
		if string(it.Status) != a.Status {
			return &AssertionError{
				Type:     AssertItemStatus,
				Expected: fmt.Sprintf("%s %s %s", a.Step, a.Item, a.Status),
				Actual:   string(it.Status),
				Trace:    result.Trace,
			}
		}
		return nil
	}
	return fmt.Errorf("step %s has no item %s", a.Step, a.Item)
}

// assertTraceCount checks that an operation ran exactly Count times,
// narrowed by Outcome and Step when they are given.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op != a.Op {
			continue
		}
		if a.Outcome != "" && ev.Outcome != a.Outcome {
			continue
		}
		if a.Step != "" && ev.Step != a.Step {
			continue
		}
		count++
	}

	if count != a.Count {
		what := a.Op
		if a.Outcome != "" {
			what += " -> " + a.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that successful operations matching the
// descriptors occurred in the listed order. Intervening operations are
// allowed; each descriptor is searched for after the previous match.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if ev.OK() && matchesDescriptor(ev, want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%s not found after position %d", want, pos),
				Trace:    trace,
			}
		}
	}
	return nil
}

// valuesEqual compares a JSON-decoded actual value with an expected value
// decoded from YAML. Numbers compare by value; maps compare as subsets.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if a, ok := toFloat(actual); ok {
		e, ok := toFloat(expected)
		return ok && a == e
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !valuesEqual(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !valuesEqual(act[i], exp[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
