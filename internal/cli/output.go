package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/stepwise/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Expected coordination outcome (no ready steps, open items, not owner, ...) or failed scenarios
	ExitCommandError = 2 // Command error (invalid arguments, unreadable plan, schema mismatch, ...)
	ExitBusy         = 3 // Store lock not acquired in time; safe to retry
	ExitDrifted      = 4 // Plan document changed since init; run reinit
)

// Error codes for failures that carry no coordination code.
const (
	CodeCommandError = "COMMAND_ERROR"
	CodeTestFailed   = "TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written to the output,
	// so Main does not print it twice.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError (2) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// ExitCodeFor maps a coordination error code to the process exit status.
func ExitCodeFor(code ir.Code) int {
	switch code {
	case ir.CodeNoReadySteps, ir.CodeOpenItems, ir.CodeNotOwner, ir.CodeWrongState, ir.CodeAlreadyCompleted:
		return ExitFailure
	case ir.CodeBusy:
		return ExitBusy
	case ir.CodePlanDrifted:
		return ExitDrifted
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "NOT_OWNER", "PLAN_DRIFTED", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Render outputs data as JSON, or calls text to write the human-readable
// form.
func (f *OutputFormatter) Render(data interface{}, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns the ExitError the
// command should return. Coordination errors keep their code and exit
// status; anything else is a command error.
func (f *OutputFormatter) Fail(err error) error {
	code, details := describeError(err)
	exit := ExitCommandError
	if code != CodeCommandError {
		exit = ExitCodeFor(ir.Code(code))
	}
	if werr := f.Error(code, err.Error(), details); werr != nil {
		return WrapExitError(ExitCommandError, "failed to write output", werr)
	}
	return &ExitError{Code: exit, Message: code, Err: err, Reported: true}
}

// describeError extracts the code and structured details of err.
func describeError(err error) (string, interface{}) {
	var noReady *ir.NoReadyStepsError
	if errors.As(err, &noReady) {
		return string(ir.CodeNoReadySteps), noReady
	}
	var openItems *ir.OpenItemsError
	if errors.As(err, &openItems) {
		return string(ir.CodeOpenItems), openItems
	}
	var coded *ir.Error
	if errors.As(err, &coded) {
		details := map[string]string{}
		for k, v := range coded.Details {
			details[k] = v
		}
		for k, v := range map[string]string{"plan": coded.Plan, "step": coded.Step, "owner": coded.Owner} {
			if v != "" {
				details[k] = v
			}
		}
		if len(details) == 0 {
			return string(coded.Code), nil
		}
		return string(coded.Code), details
	}
	if code := ir.CodeOf(err); code != "" {
		return string(code), nil
	}
	return CodeCommandError, nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
