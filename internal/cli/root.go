// Package cli implements the toolctl command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootLogLevel string

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
}

var rootCmd = &cobra.Command{
	Use:   "toolctl",
	Short: "Run external command-line tools and parse their progress output",
	Long: `toolctl runs external command-line tools, parses their output incrementally
into progress updates and classified lines, and presents the result as text,
JSON lines or an interactive terminal UI.

Tools can be run by path or by name from the tool catalog in the config file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Errors other than a tool's non-zero exit
// are printed to stderr; use ExitCode to map the error to a process status.
func Execute() error {
	err := rootCmd.Execute()
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(configCmd)
}
