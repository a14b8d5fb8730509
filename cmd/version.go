// =============================================================================
// Reinf Transmitter - Version Command
// =============================================================================
//
// COMMAND USAGE:
//   reinf version
//
// OUTPUT:
//   Reinf Transmitter
//   Version:    1.0.0
//   Commit:     abc1234
//   Build Date: 2025-01-01
//   Go Version: go1.24.0 (linux/amd64)
//
// =============================================================================

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// =============================================================================
// VERSION INFORMATION
// =============================================================================
// These variables are set at build time using ldflags:
//   go build -ldflags "-X 'github.com/ginjaninja78/reinf-transmitter/cmd.Version=1.0.0'"

// Version is the application version.
var Version = "1.0.0"

// Commit is the source revision.
var Commit = "unknown"

// BuildDate is the date the application was built.
var BuildDate = "unknown"

// versionCmd needs no configuration, so it skips the root pre-run.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the application version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Reinf Transmitter")
		fmt.Fprintf(out, "Version:    %s\n", Version)
		fmt.Fprintf(out, "Commit:     %s\n", Commit)
		fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
		fmt.Fprintf(out, "Go Version: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
