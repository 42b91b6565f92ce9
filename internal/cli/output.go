package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/logrusorgru/aurora"

	"github.com/roach88/causal/internal/report"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Findings at error severity, failed scenarios
	ExitCommandError = 2 // Command error (bad paths, unloadable program, bad config)
)

// Error codes for CLI error output.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeConfig     = "E002" // Configuration file or flag error
	ErrCodeLoadFailed = "E004" // Program could not be loaded
	ErrCodeNotFound   = "E005" // Path not found
	ErrCodeAnalysis   = "E010" // Analysis aborted
	ErrCodeNoMatch    = "E011" // Nothing matched the query
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostic output (defaults to Writer)
	Verbose   bool
	Color     aurora.Aurora
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`           // "ok" or "error"
	RunID  string    `json:"run_id,omitempty"` // analysis run that produced Data
	Data   any       `json:"data,omitempty"`   // success payload
	Error  *CLIError `json:"error,omitempty"`  // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON reports whether output is machine-readable.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

func (f *OutputFormatter) au() aurora.Aurora {
	if f.Color == nil {
		return aurora.NewAurora(false)
	}
	return f.Color
}

// Success outputs a JSON result envelope. Text output is written by the
// commands themselves.
func (f *OutputFormatter) Success(runID string, data any) error {
	if !f.JSON() {
		return nil
	}
	return json.NewEncoder(f.Writer).Encode(CLIResponse{
		Status: "ok",
		RunID:  runID,
		Data:   data,
	})
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "%s [%s]: %s\n", f.au().Red("Error"), code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail outputs err under code and returns it as an ExitError.
func (f *OutputFormatter) Fail(exit int, code, message string, err error) error {
	msg := message
	if err != nil {
		msg = fmt.Sprintf("%s: %v", message, err)
	}
	if outErr := f.Error(code, msg, nil); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, message, err)
}

// Printf writes text output. It is a no-op in JSON mode.
func (f *OutputFormatter) Printf(format string, args ...any) {
	if f.JSON() {
		return
	}
	fmt.Fprintf(f.Writer, format, args...)
}

// VerboseLog outputs a message only if verbose mode is enabled. It goes to
// ErrWriter when set so JSON output stays clean.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) severity(s report.Severity) aurora.Value {
	switch s {
	case report.SeverityError:
		return f.au().Red(string(s))
	case report.SeverityWarning:
		return f.au().Yellow(string(s))
	default:
		return f.au().Cyan(string(s))
	}
}

// Issue writes one issue as a text line and, when withTrace is set, its
// trace indented below it.
func (f *OutputFormatter) Issue(i report.Issue, withTrace bool) {
	f.Printf("%s: %s: %s [%s] (%s)\n", i.Loc, f.severity(i.Severity), i.Message, i.Kind, f.au().Bold(i.Proc.String()))
	if !withTrace {
		return
	}
	for _, s := range i.Trace {
		f.Printf("    %s\n", s)
	}
}
