package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden form of a scenario run: which operations
// ran, who ran them, on which step, and how they ended. Timestamps and
// hashes stay out of it so snapshots survive unrelated changes.
type TraceSnapshot struct {
	Scenario string      `json:"scenario"`
	Pass     bool        `json:"pass"`
	Trace    []traceLine `json:"trace"`
}

type traceLine struct {
	Seq     int    `json:"seq"`
	Op      string `json:"op"`
	Step    string `json:"step,omitempty"`
	Owner   string `json:"owner,omitempty"`
	Outcome string `json:"outcome"`
}

// Snapshot builds the golden form of a result.
func Snapshot(name string, result *Result) TraceSnapshot {
	lines := make([]traceLine, len(result.Trace))
	for i, ev := range result.Trace {
		lines[i] = traceLine{
			Seq:     ev.Seq,
			Op:      ev.Op,
			Step:    ev.Step,
			Owner:   ev.Owner,
			Outcome: ev.Outcome,
		}
	}
	return TraceSnapshot{Scenario: name, Pass: result.Pass, Trace: lines}
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
