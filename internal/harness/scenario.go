package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/ir"
)

// Scenario defines a coordination scenario: a plan, a flow of worker
// operations, and assertions on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Plan is the path of the plan document. Relative paths are resolved
	// against the scenario file's directory when loaded from disk.
	Plan string `yaml:"plan"`

	// Document, when set, is used as the plan's source instead of reading
	// Plan from disk. Plan still supplies the key and format.
	Document string `yaml:"document,omitempty"`

	// Flow lists the operations to run, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// PlanKey is the plan path under which the scenario's plan is stored.
func (s *Scenario) PlanKey() string {
	return filepath.Base(s.Plan)
}

// FlowStep is one operation performed by a worker.
type FlowStep struct {
	// Op is the operation name (see the Op constants).
	Op string `yaml:"op"`

	Owner string `yaml:"owner,omitempty"`
	Step  string `yaml:"step,omitempty"`

	// Lease is a Go duration for claim and heartbeat. Empty means the
	// engine default.
	Lease string `yaml:"lease,omitempty"`

	Force  bool   `yaml:"force,omitempty"`
	Admin  bool   `yaml:"admin,omitempty"`
	Commit string `yaml:"commit,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// Items are the transitions applied by update.
	Items []engine.ItemUpdate `yaml:"items,omitempty"`

	// Kind and Summary describe the artifact recorded by artifact.
	Kind    string `yaml:"kind,omitempty"`
	Summary string `yaml:"summary,omitempty"`

	// Entries are the (step, commit) pairs replayed by reconcile.
	Entries []ir.LogEntry `yaml:"entries,omitempty"`

	// By is the Go duration advance moves the clock.
	By string `yaml:"by,omitempty"`

	// Source replaces the plan document for edit_plan.
	Source string `yaml:"source,omitempty"`

	// Expect specifies the expected outcome. If nil, the operation must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of one operation.
type ExpectClause struct {
	// Error is the error code the operation must fail with. Empty means
	// the operation must succeed.
	Error string `yaml:"error,omitempty"`

	// Result contains expected result field values.
	// This is a subset match - only specified fields are validated.
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Operation names.
const (
	OpInit      = "init"
	OpReinit    = "reinit"
	OpClaim     = "claim"
	OpStart     = "start"
	OpHeartbeat = "heartbeat"
	OpUpdate    = "update"
	OpArtifact  = "artifact"
	OpComplete  = "complete"
	OpRelease   = "release"
	OpReady     = "ready"
	OpShow      = "show"
	OpReconcile = "reconcile"
	OpAdvance   = "advance"
	OpEditPlan  = "edit_plan"
)

var knownOps = map[string]bool{
	OpInit: true, OpReinit: true, OpClaim: true, OpStart: true,
	OpHeartbeat: true, OpUpdate: true, OpArtifact: true, OpComplete: true,
	OpRelease: true, OpReady: true, OpShow: true, OpReconcile: true,
	OpAdvance: true, OpEditPlan: true,
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "step_status": Step has Status (and Owner, if given)
	// - "plan_status": Plan has Status
	// - "item_status": Item of Step has Status
	// - "trace_count": Op ran Count times (with Outcome and Step, if given)
	// - "trace_order": Events succeeded in this order
	Type string `yaml:"type"`

	Step   string `yaml:"step,omitempty"`
	Status string `yaml:"status,omitempty"`
	Owner  string `yaml:"owner,omitempty"`

	// Item addresses a checklist item as kind#ordinal, e.g. "test#2".
	Item string `yaml:"item,omitempty"`

	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// Events lists "op" or "op:step" descriptors (used by trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertStepStatus = "step_status"
	AssertPlanStatus = "plan_status"
	AssertItemStatus = "item_status"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

var itemRefPattern = regexp.MustCompile(`^(task|test|checkpoint)#([1-9][0-9]*)$`)

// parseItemRef splits "kind#ordinal".
func parseItemRef(ref string) (ir.ItemKind, int, error) {
	m := itemRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", 0, fmt.Errorf("item %q must look like kind#ordinal", ref)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("item %q: %w", ref, err)
	}
	return ir.ItemKind(m[1]), n, nil
}

// LoadScenario reads and parses a scenario YAML file, resolving the plan
// path against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving a relative plan path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Plan != "" && !filepath.IsAbs(scenario.Plan) && basePath != "" {
		scenario.Plan = filepath.Join(basePath, scenario.Plan)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Arguments the engine itself validates are left to the engine, so a
// scenario can exercise those errors.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if s.Document == "" {
		if _, err := os.Stat(s.Plan); err != nil {
			return fmt.Errorf("plan file not found: %s", s.Plan)
		}
	}

	for i := range s.Flow {
		if err := validateFlowStep(i, &s.Flow[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateFlowStep(index int, f *FlowStep) error {
	if f.Op == "" {
		return fmt.Errorf("flow[%d]: op is required", index)
	}
	if !knownOps[f.Op] {
		return fmt.Errorf("flow[%d]: unknown op %q", index, f.Op)
	}
	if f.Lease != "" {
		if _, err := time.ParseDuration(f.Lease); err != nil {
			return fmt.Errorf("flow[%d]: invalid lease %q", index, f.Lease)
		}
	}
	switch f.Op {
	case OpAdvance:
		d, err := time.ParseDuration(f.By)
		if err != nil || d <= 0 {
			return fmt.Errorf("flow[%d]: advance requires a positive duration in by", index)
		}
	case OpEditPlan:
		if f.Source == "" {
			return fmt.Errorf("flow[%d]: source is required for edit_plan", index)
		}
	}
	if f.Expect != nil && f.Expect.Error != "" && f.Expect.Result != nil {
		return fmt.Errorf("flow[%d].expect: error and result are mutually exclusive", index)
	}
	return nil
}

// validateAssertion checks that an assertion has required fields for its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStepStatus:
		if a.Step == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: step and status are required for step_status", index)
		}
		if !ir.StepStatus(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown step status %q", index, a.Status)
		}
	case AssertPlanStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for plan_status", index)
		}
	case AssertItemStatus:
		if a.Step == "" || a.Item == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: step, item and status are required for item_status", index)
		}
		if _, _, err := parseItemRef(a.Item); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if !ir.ItemStatus(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown item status %q", index, a.Status)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order needs at least two events", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
