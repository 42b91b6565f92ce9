package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/causal/internal/ir"
)

// CyclesOptions holds flags for the cycles command.
type CyclesOptions struct {
	ProgramOptions
}

// CycleInfo is one recursion cycle met during analysis.
type CycleInfo struct {
	Key     string      `json:"key"`
	Path    string      `json:"path"`
	Members []ir.ProcID `json:"members"`
}

// StaticInfo is one recursive component of the call graph.
type StaticInfo struct {
	Message string      `json:"message"`
	Loc     ir.Location `json:"loc"`
	Path    []ir.ProcID `json:"path"`
}

// CyclesResult is the JSON payload of the cycles command.
type CyclesResult struct {
	Cycles []CycleInfo  `json:"cycles"`
	Static []StaticInfo `json:"static"`
}

// NewCyclesCommand creates the cycles command.
func NewCyclesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CyclesOptions{ProgramOptions: ProgramOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "cycles <program>",
		Short: "List recursion cycles",
		Long: `Analyze a program and list the recursion cycles the analysis closed, each
once regardless of the member it was entered at. When every procedure is
analyzed (no --root), the recursive components of the static call graph
are listed as well.

Examples:
  causal cycles ./prog.cue
  causal cycles ./prog.cue --root main --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycles(opts, args[0], cmd)
		},
	}

	addProgramFlags(cmd, &opts.ProgramOptions)

	return cmd
}

func runCycles(opts *CyclesOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	outcome, err := analyze(cmd, &opts.ProgramOptions, path, f)
	if err != nil {
		return err
	}

	res := CyclesResult{Cycles: []CycleInfo{}, Static: []StaticInfo{}}
	for _, c := range outcome.Cycles {
		res.Cycles = append(res.Cycles, CycleInfo{Key: c.Key(), Path: c.String(), Members: c.Procs()})
	}
	for _, w := range outcome.Static {
		res.Static = append(res.Static, StaticInfo{Message: w.Message, Loc: w.Loc, Path: w.Path})
	}

	if f.JSON() {
		return f.Success(outcome.RunID, res)
	}

	if len(res.Cycles) == 0 && len(res.Static) == 0 {
		f.Printf("No recursion found.\n")
		return nil
	}
	for _, c := range res.Cycles {
		f.Printf("cycle %s\n", f.au().Bold(c.Path))
	}
	for _, s := range res.Static {
		f.Printf("%s: %s %s\n", s.Loc, f.au().Yellow("warning"), s.Message)
	}
	return nil
}
