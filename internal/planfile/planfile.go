// Package planfile loads structured plan documents.
//
// A plan document declares a title and an ordered list of steps. Each step
// has a unique anchor, optional dependencies on other anchors and three
// checklists (tasks, tests, checkpoints). Documents may be written as YAML
// (.yaml, .yml), CUE (.cue) or JSON (.json):
//
//	title: Storage layer
//	steps:
//	  - anchor: S1
//	    title: Schema
//	    tasks: [create tables, add indexes]
//	    tests: [schema round-trips]
//	  - anchor: S2
//	    depends_on: [S1]
//	    tasks: [select next step]
//
// Load returns both the raw source, whose hash is the drift baseline, and
// the parsed structure handed to init.
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stepwise/internal/ir"
)

// Format identifies a plan document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported plan document extension %q (want .yaml, .yml, .cue or .json)", filepath.Ext(path))
	}
}

// Document is a loaded plan.
type Document struct {
	Path   string
	Source []byte
	Plan   ir.ParsedPlan
}

// Hash returns the drift baseline of the document's source.
func (d Document) Hash() string {
	return ir.PlanHash(d.Source)
}

// ParseError reports a document that could not be decoded or whose
// structure is unusable. It carries the PARSE_STRUCTURE_INVALID code.
type ParseError struct {
	Path    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ParseError) Error() string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ErrorCode implements ir.Coded.
func (e *ParseError) ErrorCode() ir.Code { return ir.CodeParseStructureInvalid }

// Load reads and parses the plan document at path.
func Load(path string) (Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read plan: %w", err)
	}
	plan, err := Parse(path, src)
	if err != nil {
		return Document{}, err
	}
	return Document{Path: path, Source: src, Plan: plan}, nil
}

// Parse decodes src using the format implied by name's extension and
// checks the resulting structure.
func Parse(name string, src []byte) (ir.ParsedPlan, error) {
	format, err := FormatOf(name)
	if err != nil {
		return ir.ParsedPlan{}, &ParseError{Path: name, Message: err.Error()}
	}

	var plan ir.ParsedPlan
	switch format {
	case FormatYAML:
		plan, err = parseYAML(name, src)
	default:
		plan, err = parseCUE(name, src)
	}
	if err != nil {
		return ir.ParsedPlan{}, err
	}

	if err := checkItems(name, plan); err != nil {
		return ir.ParsedPlan{}, err
	}
	if err := ir.ValidatePlan(plan); err != nil {
		return ir.ParsedPlan{}, fmt.Errorf("%s: %w", name, err)
	}
	return plan, nil
}

func parseYAML(name string, src []byte) (ir.ParsedPlan, error) {
	var plan ir.ParsedPlan
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return ir.ParsedPlan{}, &ParseError{Path: name, Message: "document is empty"}
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
			return ir.ParsedPlan{}, &ParseError{Path: name, Field: "yaml", Message: typeErr.Errors[0]}
		}
		return ir.ParsedPlan{}, &ParseError{Path: name, Field: "yaml", Message: err.Error()}
	}
	return plan, nil
}

// parseCUE handles both .cue and .json documents; JSON is valid CUE.
func parseCUE(name string, src []byte) (ir.ParsedPlan, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return ir.ParsedPlan{}, formatCUEError(name, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return ir.ParsedPlan{}, formatCUEError(name, err)
	}

	if steps := v.LookupPath(cue.ParsePath("steps")); !steps.Exists() {
		return ir.ParsedPlan{}, &ParseError{Path: name, Field: "steps", Message: "steps is required", Pos: v.Pos()}
	}

	var plan ir.ParsedPlan
	if err := v.Decode(&plan); err != nil {
		return ir.ParsedPlan{}, formatCUEError(name, err)
	}
	return plan, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(name string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ParseError{Path: name, Field: "cue", Message: err.Error()}
	}
	first := errs[0]
	pe := &ParseError{Path: name, Field: "cue", Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pe.Pos = positions[0]
	}
	return pe
}

// checkItems rejects blank checklist entries.
func checkItems(name string, plan ir.ParsedPlan) error {
	for i, s := range plan.Steps {
		for _, kind := range ir.ItemKinds {
			for n, text := range s.Items()[kind] {
				if strings.TrimSpace(text) == "" {
					return &ParseError{
						Path:    name,
						Field:   fmt.Sprintf("steps[%d].%ss[%d]", i, kind, n),
						Message: "checklist item text is empty",
					}
				}
			}
		}
	}
	return nil
}
