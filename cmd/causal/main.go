// Command causal runs the interprocedural analysis from the command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/causal/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		// Usage errors from cobra; commands report their own failures.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
