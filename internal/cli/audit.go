package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/causal/internal/checker/resolution"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	ProgramOptions
	Unresolved bool
}

// AuditResult is the JSON payload of the audit command.
type AuditResult struct {
	Records []resolution.AuditRecord `json:"records"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{ProgramOptions: ProgramOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "audit <program>",
		Short: "List every call site a procedure reaches",
		Long: `Run the resolution checker and list, for each analyzed procedure, every
call site it reaches directly or through its callees, with whether the
site always, sometimes or never resolved, whether it runs inside a loop,
and how deep in the call chain it sits.

Examples:
  causal audit ./prog.cue
  causal audit ./prog.cue --root main --unresolved
  causal audit ./prog.cue -v`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, args[0], cmd)
		},
	}

	addProgramFlags(cmd, &opts.ProgramOptions)
	cmd.Flags().BoolVar(&opts.Unresolved, "unresolved", false, "only sites that did not always resolve")
	_ = cmd.Flags().MarkHidden("checker")

	return cmd
}

func runAudit(opts *AuditOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	opts.Checker = resolution.Name
	outcome, err := analyze(cmd, &opts.ProgramOptions, path, f)
	if err != nil {
		return err
	}

	records := outcome.Audit
	if opts.Unresolved {
		records = resolution.Unresolved(records)
	}
	if records == nil {
		records = []resolution.AuditRecord{}
	}

	if f.JSON() {
		return f.Success(outcome.RunID, AuditResult{Records: records})
	}

	if len(records) == 0 {
		f.Printf("No call sites found.\n")
		return nil
	}
	au := f.au()
	for _, r := range records {
		loop := ""
		if r.InLoop {
			loop = " in loop"
		}
		f.Printf("%s: %s calls %s at %s: %s%s (depth %d)\n",
			au.Bold(r.Proc.String()), r.Caller, r.Callee, r.Loc, r.Status, loop, r.Depth)
		if f.Verbose {
			for _, s := range r.Trace {
				f.Printf("    %s\n", s)
			}
		}
	}
	return nil
}
