package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/causal/internal/analysis"
	"github.com/roach88/causal/internal/report"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	ProgramOptions
	NoTrace bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{ProgramOptions: ProgramOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "analyze <program>",
		Short: "Analyze a program and report issues",
		Long: `Analyze every procedure of a program, or only the --root procedures and
what they reach, and report the issues the checker raises. Each issue is
printed with its trace: the events that led to it, indented by call depth.

The program is a CUE file or package directory, or with --go a Go package
pattern.

Exit codes:
  0 - No error-severity issues
  1 - At least one error-severity issue
  2 - Command error (unloadable program, bad config, etc.)

Examples:
  causal analyze ./prog.cue
  causal analyze ./progs --checker lifetime --root main
  causal analyze --go ./... --cache ./summaries.db
  causal analyze ./prog.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, args[0], cmd)
		},
	}

	addProgramFlags(cmd, &opts.ProgramOptions)
	cmd.Flags().BoolVar(&opts.NoTrace, "no-trace", false, "print issues without their traces")

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	outcome, err := analyze(cmd, &opts.ProgramOptions, path, f)
	if err != nil {
		return err
	}

	if f.JSON() {
		if err := f.Success(outcome.RunID, outcome); err != nil {
			return err
		}
	} else {
		for _, i := range outcome.Issues {
			f.Issue(i, !opts.NoTrace)
		}
		f.Printf("%s\n", summaryLine(outcome))
	}

	if n := countSeverity(outcome.Issues, report.SeverityError); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d error(s) found", n))
	}
	return nil
}

// analyze loads the configuration and the program, then runs the
// analysis. Failures are written through f and returned as ExitErrors.
func analyze(cmd *cobra.Command, opts *ProgramOptions, path string, f *OutputFormatter) (*analysis.Outcome, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	logger := newLogger(cmd, cfg)

	prog, err := loadProgram(path, opts, logger)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load program", err)
	}
	f.VerboseLog("Loaded %d procedure(s) from %s", len(prog.Procs()), path)

	outcome, err := analysis.Run(cmd.Context(), prog, resolveRoots(prog, opts.Roots), analysis.Options{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeAnalysis, "analysis failed", err)
	}
	return outcome, nil
}

func summaryLine(o *analysis.Outcome) string {
	failed := 0
	for _, p := range o.Procs {
		if p.Failure != "" {
			failed++
		}
	}
	return fmt.Sprintf("%d procedure(s) analyzed with %s, %d failed: %d error(s), %d warning(s), %d cycle(s)",
		len(o.Procs), o.Checker, failed,
		countSeverity(o.Issues, report.SeverityError),
		countSeverity(o.Issues, report.SeverityWarning),
		len(o.Cycles))
}

func countSeverity(issues []report.Issue, s report.Severity) int {
	n := 0
	for _, i := range issues {
		if i.Severity == s {
			n++
		}
	}
	return n
}
