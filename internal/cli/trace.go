package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/causal/internal/report"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	ProgramOptions
	Proc string // procedure name or name/arity
	Line int
	Kind string
}

// TraceResult is the JSON payload of the trace command.
type TraceResult struct {
	Issues []report.Issue `json:"issues"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{ProgramOptions: ProgramOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "trace <program>",
		Short: "Explain how issues came about",
		Long: `Analyze a program and print the full trace of the issues matching the
filters. A trace lists the events behind an issue in order. Events inside
a callee are indented one level per call and introduced by the call that
entered it.

Examples:
  causal trace ./prog.cue --proc main
  causal trace ./prog.cue --proc main --line 12
  causal trace ./prog.cue --kind use-after-invalidate --checker lifetime`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	addProgramFlags(cmd, &opts.ProgramOptions)
	cmd.Flags().StringVar(&opts.Proc, "proc", "", "only issues raised in this procedure")
	cmd.Flags().IntVar(&opts.Line, "line", 0, "only issues at this line")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only issues of this kind")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	outcome, err := analyze(cmd, &opts.ProgramOptions, path, f)
	if err != nil {
		return err
	}

	var matched []report.Issue
	for _, i := range outcome.Issues {
		if opts.matches(i) {
			matched = append(matched, i)
		}
	}
	if len(matched) == 0 {
		return f.Fail(ExitFailure, ErrCodeNoMatch, "no issue matches "+opts.String(), nil)
	}

	if f.JSON() {
		return f.Success(outcome.RunID, TraceResult{Issues: matched})
	}
	for n, i := range matched {
		if n > 0 {
			f.Printf("\n")
		}
		f.Issue(i, true)
	}
	return nil
}

func (o *TraceOptions) matches(i report.Issue) bool {
	if o.Proc != "" && i.Proc.Name != o.Proc && i.Proc.Key() != o.Proc {
		return false
	}
	if o.Line != 0 && i.Loc.Line != o.Line {
		return false
	}
	if o.Kind != "" && i.Kind != o.Kind {
		return false
	}
	return true
}

// String describes the active filters.
func (o *TraceOptions) String() string {
	return fmt.Sprintf("proc=%q line=%d kind=%q", o.Proc, o.Line, o.Kind)
}
