package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePlan_Valid(t *testing.T) {
	p := ParsedPlan{
		Title: "Demo",
		Steps: []ParsedStep{
			{Anchor: "S1", Tasks: []string{"write code"}},
			{Anchor: "S2", DependsOn: []string{"S1"}, Tests: []string{"go test"}},
			{Anchor: "S3", DependsOn: []string{"S1", "S2"}},
		},
	}

	require.NoError(t, ValidatePlan(p))
}

func TestValidatePlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		plan ParsedPlan
		want string
	}{
		{
			name: "no steps",
			plan: ParsedPlan{},
			want: "no steps",
		},
		{
			name: "empty anchor",
			plan: ParsedPlan{Steps: []ParsedStep{{Anchor: ""}}},
			want: "anchor is required",
		},
		{
			name: "padded anchor",
			plan: ParsedPlan{Steps: []ParsedStep{{Anchor: " S1"}}},
			want: "surrounding whitespace",
		},
		{
			name: "duplicate anchor",
			plan: ParsedPlan{Steps: []ParsedStep{{Anchor: "S1"}, {Anchor: "S1"}}},
			want: "duplicate anchor",
		},
		{
			name: "unknown dependency",
			plan: ParsedPlan{Steps: []ParsedStep{{Anchor: "S1", DependsOn: []string{"S9"}}}},
			want: "unknown step \"S9\"",
		},
		{
			name: "self dependency",
			plan: ParsedPlan{Steps: []ParsedStep{{Anchor: "S1", DependsOn: []string{"S1"}}}},
			want: "depends on itself",
		},
		{
			name: "duplicate edge",
			plan: ParsedPlan{Steps: []ParsedStep{
				{Anchor: "S1"},
				{Anchor: "S2", DependsOn: []string{"S1", "S1"}},
			}},
			want: "twice",
		},
		{
			name: "cycle",
			plan: ParsedPlan{Steps: []ParsedStep{
				{Anchor: "A", DependsOn: []string{"C"}},
				{Anchor: "B", DependsOn: []string{"A"}},
				{Anchor: "C", DependsOn: []string{"B"}},
				{Anchor: "D"},
			}},
			want: "cycle: A -> B -> C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(tt.plan)
			require.Error(t, err)
			assert.Equal(t, CodeParseStructureInvalid, CodeOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParsedStepItems(t *testing.T) {
	s := ParsedStep{
		Tasks:       []string{"t1", "t2"},
		Tests:       []string{"x1"},
		Checkpoints: []string{"c1"},
	}

	items := s.Items()
	assert.Equal(t, []string{"t1", "t2"}, items[KindTask])
	assert.Equal(t, []string{"x1"}, items[KindTest])
	assert.Equal(t, []string{"c1"}, items[KindCheckpoint])
}
