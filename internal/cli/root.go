// Package cli implements the coderag command-line shell: thin cobra
// commands over internal/orchestrate's Index/Search invocation surface.
// Grounded on the teacher's internal/cli/root.go command wiring.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coderag",
	Short: "Index and search a codebase with hybrid vector + lexical retrieval",
}

// Execute runs the coderag root command.
func Execute() error {
	return rootCmd.Execute()
}
