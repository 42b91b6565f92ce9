package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/causal/internal/callgraph"
	"github.com/roach88/causal/internal/ir"
)

// ProcInfo describes one loaded procedure.
type ProcInfo struct {
	Proc  ir.ProcID `json:"proc"`
	Nodes int       `json:"nodes"`
	Calls int       `json:"calls"`
}

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Procedures []ProcInfo  `json:"procedures"`
	Roots      []ir.ProcID `json:"roots"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProgramOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <program>",
		Short: "Load a program without analyzing it",
		Long: `Load a program through its front-end and check that every control-flow
graph is well formed, without running a checker. Lists each procedure with
its node count and the calls to other procedures of the program, and the
procedures no other procedure calls.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Go, "go", false, "load Go packages matching the argument instead of a CUE program")
	cmd.Flags().BoolVar(&opts.Tests, "tests", false, "include test packages (with --go)")

	return cmd
}

func runValidate(opts *ProgramOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	prog, err := loadProgram(path, opts, newLogger(cmd, cfg))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load program", err)
	}

	g := callgraph.Build(prog)
	res := ValidationResult{Valid: true, Roots: g.Roots()}
	for _, p := range prog.Procs() {
		info := ProcInfo{Proc: p, Calls: len(g.Edges(p))}
		if body, ok := prog.CFG(p); ok {
			info.Nodes = len(body.Nodes)
		}
		res.Procedures = append(res.Procedures, info)
		f.VerboseLog("%s: %d node(s), %d call(s)", p, info.Nodes, info.Calls)
	}

	if f.JSON() {
		return f.Success("", res)
	}
	f.Printf("%s %d procedure(s) loaded from %s\n", f.au().Green("✓"), len(res.Procedures), path)
	for _, r := range res.Roots {
		f.Printf("  root %s\n", r)
	}
	return nil
}
