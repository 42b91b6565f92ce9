package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/logrusorgru/aurora"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/trace"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success("run-1", map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_TextSuccessWritesNothing(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("run-1", "ignored"))
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeLoadFailed, "failed to load program", map[string]string{"path": "prog.cue"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E004", resp.Error.Code)
	assert.Equal(t, "failed to load program", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("E001", "analysis failed", nil))
	assert.Equal(t, "Error [E001]: analysis failed\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("E001", "analysis failed", map[string]string{"proc": "main/0"}))
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	cause := errors.New("no such file")
	err := formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load program", cause)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Error [E004]: failed to load program: no such file\n", buf.String())
}

func TestOutputFormatter_PrintfSilentInJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	formatter.Printf("hello %s\n", "world")
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Loaded %d procedure(s)", 3)

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Equal(t, "Loaded 3 procedure(s)\n", errOut.String())
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestOutputFormatter_Issue(t *testing.T) {
	issue := report.Issue{
		Proc:     ir.ProcID{Name: "main"},
		Loc:      ir.Location{File: "prog.go", Line: 3},
		Kind:     "use-after-invalidate",
		Severity: report.SeverityError,
		Message:  "`x` is used after being invalidated",
		Trace: []trace.Step{
			{Loc: ir.Location{File: "prog.go", Line: 2}, Text: "`x` invalidated"},
			{Loc: ir.Location{File: "prog.go", Line: 3}, Text: "`x` used"},
		},
	}

	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	formatter.Issue(issue, true)

	assert.Equal(t,
		"prog.go:3: error: `x` is used after being invalidated [use-after-invalidate] (main/0)\n"+
			"    prog.go:2: `x` invalidated\n"+
			"    prog.go:3: `x` used\n",
		buf.String())

	buf.Reset()
	formatter.Issue(issue, false)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestOutputFormatter_ColorSeverity(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Color: aurora.NewAurora(true)}
	formatter.Issue(report.Issue{Proc: ir.ProcID{Name: "f"}, Severity: report.SeverityWarning, Kind: "k", Message: "m"}, false)

	assert.Contains(t, buf.String(), "\x1b[")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(WrapExitError(ExitFailure, "wrapped", errors.New("x"))))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad", NewExitError(ExitCommandError, "bad").Error())
	assert.Equal(t, "load: gone", WrapExitError(ExitCommandError, "load", errors.New("gone")).Error())
}
