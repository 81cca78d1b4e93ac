// Command coderag is a thin CLI shell over the indexing and search
// library: it wires an Orchestrator from flags and delegates to
// index(options)/search, per spec.md §6's invocation surface. Grounded
// on the teacher's internal/cli/root.go cobra.Command wiring, trimmed
// down since config-file parsing and environment-variable
// interpolation are out of scope here.
package main

import (
	"fmt"
	"os"

	"github.com/coderag/coderag/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
