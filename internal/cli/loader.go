package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/causal/internal/config"
	"github.com/roach88/causal/internal/frontend/cueprog"
	"github.com/roach88/causal/internal/frontend/gossa"
	"github.com/roach88/causal/internal/ir"
)

// ProgramOptions selects the front-end and the analysis settings shared by
// every command that analyzes a program.
type ProgramOptions struct {
	*RootOptions

	// Go treats the argument as a Go package pattern instead of a CUE
	// program file or directory.
	Go bool
	// Tests includes test packages (with Go).
	Tests bool

	Checker string
	Roots   []string
	Cache   string
	Workers int
}

func addProgramFlags(cmd *cobra.Command, opts *ProgramOptions) {
	cmd.Flags().BoolVar(&opts.Go, "go", false, "load Go packages matching the argument instead of a CUE program")
	cmd.Flags().BoolVar(&opts.Tests, "tests", false, "include test packages (with --go)")
	cmd.Flags().StringVar(&opts.Checker, "checker", "", "checker to run (resolution|lifetime); overrides the config file")
	cmd.Flags().StringSliceVar(&opts.Roots, "root", nil, "analyze only these procedures and what they reach")
	cmd.Flags().StringVar(&opts.Cache, "cache", "", "SQLite summary cache path; overrides the config file")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent analyses; overrides the config file")
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(opts *ProgramOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	if opts.Checker != "" {
		cfg.Checker = opts.Checker
	}
	if opts.Cache != "" {
		cfg.Cache.Path = opts.Cache
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.Verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger logs to the command's stderr at the configured level.
func newLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	logger.SetLevel(cfg.Level())
	return logger
}

// loadProgram runs the selected front-end over path.
func loadProgram(path string, opts *ProgramOptions, logger logrus.FieldLogger) (*ir.Program, error) {
	if opts.Go {
		return gossa.Load(gossa.Config{Patterns: []string{path}, Tests: opts.Tests, Logger: logger})
	}
	loader, err := cueprog.NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}

// resolveRoots maps root names to procedure ids; unknown names are kept so
// the analysis reports them as failed.
func resolveRoots(prog *ir.Program, names []string) []ir.ProcID {
	out := make([]ir.ProcID, 0, len(names))
	for _, name := range names {
		if id, ok := prog.Lookup(name); ok {
			out = append(out, id)
			continue
		}
		id, err := ir.ParseProcID(name)
		if err != nil {
			id = ir.ProcID{Name: name}
		}
		out = append(out, id)
	}
	return out
}
