package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexander-akhmetov/toolctl/internal/config"
	"github.com/alexander-akhmetov/toolctl/internal/controller"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage toolctl configuration",
	Long:  `View toolctl configuration and the tool catalog.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration with its sources",
	Long: `Show the fully resolved configuration and where it came from.

Configuration is loaded from multiple sources with the following precedence:
  1. Embedded defaults (built into binary)
  2. Global config (~/.config/toolctl/config.yaml)
  3. TOOLCTL_* environment variables
  4. Local config (.toolctl/config.yaml)
  5. CLI flags (highest precedence)`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(config.CLIFlags{LogLevel: rootLogLevel})
		if err != nil {
			return err
		}
		return showConfig(cmd.OutOrStdout(), cfg)
	},
}

var configToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(config.CLIFlags{LogLevel: rootLogLevel})
		if err != nil {
			return err
		}
		listTools(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configToolsCmd)
}

func showConfig(w io.Writer, cfg *config.Config) error {
	fmt.Fprintln(w, "# toolctl configuration")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "## Sources (in order of precedence)")
	for _, src := range cfg.Sources() {
		fmt.Fprintf(w, "  - %s\n", src)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Directories")
	fmt.Fprintf(w, "  Global config: %s\n", cfg.ConfigDir())
	if cfg.LocalDir() != "" {
		fmt.Fprintf(w, "  Local config:  %s\n", cfg.LocalDir())
	} else {
		fmt.Fprintf(w, "  Local config:  (none detected)\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Effective settings")
	data, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	for line := range strings.SplitSeq(strings.TrimRight(string(data), "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return nil
}

func listTools(w io.Writer, cfg *config.Config) {
	names := cfg.ToolNames()
	if len(names) == 0 {
		fmt.Fprintln(w, "No tools configured. Add entries under 'tools:' in config.yaml.")
		return
	}
	for _, name := range names {
		desc, _ := cfg.Descriptor(name)
		extra := ""
		if desc.PTY {
			extra = " [pty]"
		}
		fmt.Fprintf(w, "  %-20s %s%s\n", name, controller.FormatCmdline(desc.Cmdline(nil)), extra)
	}
}
