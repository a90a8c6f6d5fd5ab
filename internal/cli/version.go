package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags
var (
	// Version is the semantic version (e.g., "1.2.3")
	Version = "dev"
	// Commit is the git commit SHA
	Commit = "unknown"
	// Date is the build date
	Date = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("covkit %s (commit %s, built %s, %s)\n", Version, Commit, Date, runtime.Version())
		},
	}
}
