package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/causal/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run analysis scenarios",
		Long: `Run scenario files against the analysis.

A scenario names a CUE program, an optional configuration and roots, and
assertions about the issues, traces, cycles and procedure statuses the
analysis must produce. The argument is a scenario file or a directory of
.yaml/.yml scenarios.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  causal test ./scenarios
  causal test ./scenarios --filter "release_*"
  causal test ./scenarios/ring.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	res, err := harness.RunSuite(cmd.Context(), path, opts.Filter)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "scenarios not found", err)
		}
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to run scenarios", err)
	}

	if f.JSON() {
		if err := f.Success("", res); err != nil {
			return err
		}
	} else {
		if res.Total == 0 {
			f.Printf("No scenarios found.\n")
			return nil
		}
		au := f.au()
		for _, name := range res.Passes {
			f.Printf("%s %s\n", au.Green("✓"), name)
		}
		for _, fail := range res.Failures {
			f.Printf("%s %s\n", au.Red("✗"), fail.Scenario)
			for _, e := range fail.Errors {
				f.Printf("  %s\n", e)
			}
		}
		f.Printf("\nTest Summary: %d passed, %d failed, %d total\n", res.Passed, res.Failed, res.Total)
	}

	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", res.Failed))
	}
	return nil
}
