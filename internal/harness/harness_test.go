package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepwise/internal/engine"
	"github.com/roach88/stepwise/internal/ir"
)

const inlinePlan = `
steps:
  - anchor: S1
    tasks: [write code]
  - anchor: S2
    depends_on: [S1]
`

func inlineScenario(name string, flow ...FlowStep) *Scenario {
	return &Scenario{
		Name:        name,
		Description: name,
		Plan:        "inline.yaml",
		Document:    inlinePlan,
		Flow:        flow,
	}
}

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "golden file is named after the scenario")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_RecordsTrace(t *testing.T) {
	scenario := inlineScenario("trace",
		FlowStep{Op: OpInit},
		FlowStep{Op: OpClaim},
		FlowStep{Op: OpClaim, Owner: "B", Expect: &ExpectClause{Error: string(ir.CodeNoReadySteps)}},
		FlowStep{Op: OpAdvance, By: "1h"},
		FlowStep{Op: OpClaim, Owner: "B", Lease: "5m"},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 5)

	claim := result.Trace[1]
	assert.Equal(t, 2, claim.Seq)
	assert.Equal(t, "S1", claim.Step)
	assert.Equal(t, "worker-1", claim.Owner, "generated owners are sequential")
	assert.True(t, claim.OK())

	blocked := result.Trace[2]
	assert.Equal(t, string(ir.CodeNoReadySteps), blocked.Outcome)
	assert.Empty(t, blocked.Step)
	assert.NotEmpty(t, blocked.Error)
	assert.Nil(t, blocked.Result)

	reclaim := result.Trace[4]
	assert.Equal(t, map[string]any{"lease": "5m"}, reclaim.Args)
	res, ok := reclaim.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, res["reclaimed"])
	assert.Equal(t, "worker-1", res["previous_owner"])

	require.NotNil(t, result.Final)
	assert.Equal(t, "inline.yaml", result.Final.Plan.Path)
	assert.Equal(t, ir.StepClaimed, result.Final.Steps[0].Status)
	assert.Equal(t, "B", result.Final.Steps[0].ClaimedBy)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	scenario := inlineScenario("unexpected",
		FlowStep{Op: OpInit},
		FlowStep{Op: OpStart, Step: "S1", Owner: "A"},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[1] start: expected ok, got NOT_OWNER")
}

func TestRun_ExpectedErrorThatSucceeds(t *testing.T) {
	scenario := inlineScenario("no_error",
		FlowStep{Op: OpInit},
		FlowStep{Op: OpClaim, Owner: "A", Expect: &ExpectClause{Error: string(ir.CodeNoReadySteps)}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error NO_READY_STEPS, got success")
}

func TestRun_ResultMismatch(t *testing.T) {
	scenario := inlineScenario("mismatch",
		FlowStep{Op: OpInit},
		FlowStep{Op: OpClaim, Owner: "A", Expect: &ExpectClause{Result: map[string]interface{}{
			"step":    "S2",
			"missing": 1,
		}}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"flow[1] claim: result.missing: missing",
		"flow[1] claim: result.step: expected S2, got S1",
	}, result.Errors)
}

func TestRun_ChecklistAndArtifacts(t *testing.T) {
	scenario := inlineScenario("checklist",
		FlowStep{Op: OpInit},
		FlowStep{Op: OpClaim, Owner: "A"},
		FlowStep{Op: OpStart, Step: "S1", Owner: "A"},
		FlowStep{Op: OpHeartbeat, Step: "S1", Owner: "A", Lease: "1h"},
		FlowStep{
			Op: OpUpdate, Step: "S1", Owner: "A",
			Items: []engine.ItemUpdate{{Kind: ir.KindTask, Ordinal: 1, Status: ir.ItemCompleted}},
		},
		FlowStep{
			Op: OpArtifact, Step: "S1", Owner: "A", Kind: "note", Summary: "done",
			Expect: &ExpectClause{Result: map[string]interface{}{"id": 1, "truncated": false}},
		},
		FlowStep{Op: OpRelease, Step: "S1", Owner: "A"},
		FlowStep{Op: OpShow},
		FlowStep{Op: OpReady, Expect: &ExpectClause{Result: map[string]interface{}{
			"ready": []interface{}{map[string]interface{}{"anchor": "S1"}},
		}}},
	)
	scenario.Assertions = []Assertion{
		{Type: AssertStepStatus, Step: "S1", Status: "pending"},
		{Type: AssertItemStatus, Step: "S1", Item: "task#1", Status: "completed"},
		{Type: AssertTraceOrder, Events: []string{"start:S1", "heartbeat:S1", "release:S1"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_InvalidPlanDocument(t *testing.T) {
	scenario := inlineScenario("invalid",
		FlowStep{Op: OpInit, Expect: &ExpectClause{Error: string(ir.CodeParseStructureInvalid)}},
		FlowStep{Op: OpClaim, Expect: &ExpectClause{Error: string(ir.CodePlanNotFound)}},
	)
	scenario.Document = "steps:\n  - anchor: S1\n    depends_on: [S1]\n"
	scenario.Assertions = []Assertion{{Type: AssertPlanStatus, Status: "active"}}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Nil(t, result.Final)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "plan was never initialized")
}

func TestRun_CUEDocument(t *testing.T) {
	scenario := &Scenario{
		Name:        "cue",
		Description: "CUE plans run like YAML plans",
		Plan:        "plan.cue",
		Document: `steps: [
	{anchor: "S1", tests: ["passes"]},
]
`,
		Flow: []FlowStep{
			{Op: OpInit, Expect: &ExpectClause{Result: map[string]interface{}{"items_created": 1}}},
			{Op: OpClaim, Owner: "A"},
			{Op: OpComplete, Step: "S1", Owner: "A", Expect: &ExpectClause{Error: string(ir.CodeOpenItems)}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
