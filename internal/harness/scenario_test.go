package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepwise/internal/ir"
)

// writeScenario writes a scenario next to a copy of the two-step plan.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	plan, err := os.ReadFile(filepath.Join("testdata", "plans", "two_step.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plan.yaml"), plan, 0o644))

	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
plan: plan.yaml
flow:
  - op: init
  - op: update
    step: S1
    owner: A
    items:
      - { kind: test, ordinal: 1, status: deferred }
  - op: reconcile
    entries:
      - { step: S1, commit: abc }
assertions:
  - type: item_status
    step: S1
    item: test#1
    status: deferred
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "plan.yaml"), scenario.Plan)
	assert.Equal(t, "plan.yaml", scenario.PlanKey())
	require.Len(t, scenario.Flow, 3)
	require.Len(t, scenario.Flow[1].Items, 1)
	assert.Equal(t, ir.KindTest, scenario.Flow[1].Items[0].Kind)
	assert.Equal(t, ir.ItemDeferred, scenario.Flow[1].Items[0].Status)
	assert.Equal(t, []ir.LogEntry{{Step: "S1", Commit: "abc"}}, scenario.Flow[2].Entries)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Unknown keys are rejected"
plan: plan.yaml
flow:
  - op: init
assertion:
  - type: plan_status
    status: active
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	path := writeScenario(t, `
name: based
description: "Plan path resolved against an explicit base"
plan: plans/two_step.yaml
flow:
  - op: init
`)

	scenario, err := LoadScenarioWithBasePath(path, "testdata")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "plans", "two_step.yaml"), scenario.Plan)
}

func TestValidateScenario(t *testing.T) {
	valid := func() *Scenario {
		return &Scenario{
			Name:        "s",
			Description: "d",
			Plan:        "inline.yaml",
			Document:    "steps:\n  - anchor: S1\n",
			Flow:        []FlowStep{{Op: OpInit}},
		}
	}

	tests := []struct {
		name   string
		mutate func(s *Scenario)
		want   string
	}{
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"missing description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"missing plan", func(s *Scenario) { s.Plan = "" }, "plan is required"},
		{"missing plan file", func(s *Scenario) { s.Document = ""; s.Plan = "nope/absent.yaml" }, "plan file not found"},
		{"empty flow", func(s *Scenario) { s.Flow = nil }, "flow list is required"},
		{"missing op", func(s *Scenario) { s.Flow[0].Op = "" }, "flow[0]: op is required"},
		{"unknown op", func(s *Scenario) { s.Flow[0].Op = "teleport" }, `unknown op "teleport"`},
		{"bad lease", func(s *Scenario) { s.Flow[0] = FlowStep{Op: OpClaim, Lease: "soon"} }, "invalid lease"},
		{"advance without by", func(s *Scenario) { s.Flow[0] = FlowStep{Op: OpAdvance} }, "positive duration"},
		{"negative advance", func(s *Scenario) { s.Flow[0] = FlowStep{Op: OpAdvance, By: "-1m"} }, "positive duration"},
		{"edit without source", func(s *Scenario) { s.Flow[0] = FlowStep{Op: OpEditPlan} }, "source is required"},
		{
			"error and result",
			func(s *Scenario) {
				s.Flow[0].Expect = &ExpectClause{Error: "BUSY", Result: map[string]interface{}{"x": 1}}
			},
			"mutually exclusive",
		},
		{"assertion type", func(s *Scenario) { s.Assertions = []Assertion{{}} }, "type is required"},
		{"unknown assertion", func(s *Scenario) { s.Assertions = []Assertion{{Type: "final_state"}} }, "unknown assertion type"},
		{
			"step status fields",
			func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertStepStatus, Step: "S1"}} },
			"step and status are required",
		},
		{
			"bad step status",
			func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertStepStatus, Step: "S1", Status: "done"}} },
			"unknown step status",
		},
		{
			"bad item ref",
			func(s *Scenario) {
				s.Assertions = []Assertion{{Type: AssertItemStatus, Step: "S1", Item: "task1", Status: "open"}}
			},
			"kind#ordinal",
		},
		{
			"trace order too short",
			func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertTraceOrder, Events: []string{"claim"}}} },
			"at least two events",
		},
		{
			"negative count",
			func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertTraceCount, Op: "claim", Count: -1}} },
			"non-negative",
		},
	}

	require.NoError(t, validateScenario(valid()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := validateScenario(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseItemRef(t *testing.T) {
	kind, n, err := parseItemRef("checkpoint#12")
	require.NoError(t, err)
	assert.Equal(t, ir.KindCheckpoint, kind)
	assert.Equal(t, 12, n)

	for _, bad := range []string{"", "task", "task#0", "note#1", "task#-1"} {
		_, _, err := parseItemRef(bad)
		assert.Error(t, err, bad)
	}
}
