package ir

import (
	"fmt"
	"sort"
	"strings"
)

// ParsedPlan is the already-parsed structure of a plan document.
// Step order is document order and becomes the scheduling tie-break.
type ParsedPlan struct {
	Title string       `json:"title,omitempty" yaml:"title,omitempty"`
	Steps []ParsedStep `json:"steps" yaml:"steps"`
}

// ParsedStep declares one step, its dependencies and its checklist.
// Each checklist slice is in declaration order; ordinals start at 1.
type ParsedStep struct {
	Anchor      string   `json:"anchor" yaml:"anchor"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Tasks       []string `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Tests       []string `json:"tests,omitempty" yaml:"tests,omitempty"`
	Checkpoints []string `json:"checkpoints,omitempty" yaml:"checkpoints,omitempty"`
}

// Items returns the step's checklist texts grouped by kind.
func (s ParsedStep) Items() map[ItemKind][]string {
	return map[ItemKind][]string{
		KindTask:       s.Tasks,
		KindTest:       s.Tests,
		KindCheckpoint: s.Checkpoints,
	}
}

// ValidatePlan checks the structural rules init relies on: at least one
// step, non-empty unique anchors, dependencies that name known steps, no
// self or duplicate edges, and an acyclic graph.
//
// Violations are returned as a PARSE_STRUCTURE_INVALID error.
func ValidatePlan(p ParsedPlan) error {
	if len(p.Steps) == 0 {
		return NewParseStructureError("plan declares no steps")
	}

	known := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		anchor := strings.TrimSpace(s.Anchor)
		if anchor == "" {
			return NewParseStructureError(fmt.Sprintf("steps[%d]: anchor is required", i))
		}
		if anchor != s.Anchor {
			return NewParseStructureError(fmt.Sprintf("steps[%d]: anchor %q has surrounding whitespace", i, s.Anchor))
		}
		if known[anchor] {
			return NewParseStructureError(fmt.Sprintf("steps[%d]: duplicate anchor %q", i, anchor))
		}
		known[anchor] = true
	}

	for _, s := range p.Steps {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if dep == s.Anchor {
				return NewParseStructureError(fmt.Sprintf("step %q depends on itself", s.Anchor))
			}
			if !known[dep] {
				return NewParseStructureError(fmt.Sprintf("step %q depends on unknown step %q", s.Anchor, dep))
			}
			if seen[dep] {
				return NewParseStructureError(fmt.Sprintf("step %q lists dependency %q twice", s.Anchor, dep))
			}
			seen[dep] = true
		}
	}

	if cycle := findCycle(p); len(cycle) > 0 {
		return NewParseStructureError(fmt.Sprintf("dependency graph contains a cycle: %s", strings.Join(cycle, " -> ")))
	}
	return nil
}

// findCycle runs Kahn's algorithm and, if some steps are never released,
// returns the sorted anchors left in the cycle.
func findCycle(p ParsedPlan) []string {
	inDegree := make(map[string]int, len(p.Steps))
	dependents := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		inDegree[s.Anchor] += 0
		for _, dep := range s.DependsOn {
			inDegree[s.Anchor]++
			dependents[dep] = append(dependents[dep], s.Anchor)
		}
	}

	ready := make([]string, 0, len(p.Steps))
	for anchor, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, anchor)
		}
	}

	visited := 0
	for len(ready) > 0 {
		anchor := ready[0]
		ready = ready[1:]
		visited++
		for _, next := range dependents[anchor] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if visited == len(inDegree) {
		return nil
	}
	var stuck []string
	for anchor, degree := range inDegree {
		if degree > 0 {
			stuck = append(stuck, anchor)
		}
	}
	sort.Strings(stuck)
	return stuck
}
