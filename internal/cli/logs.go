package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexander-akhmetov/toolctl/internal/config"
	"github.com/alexander-akhmetov/toolctl/internal/controller"
	"github.com/alexander-akhmetov/toolctl/internal/dirs"
	"github.com/alexander-akhmetov/toolctl/internal/output"
	"github.com/alexander-akhmetov/toolctl/internal/runlog"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
	"github.com/alexander-akhmetov/toolctl/internal/tool"
)

var (
	logsFollow bool
	logsList   bool
	logsRecent int
)

var logsCmd = &cobra.Command{
	Use:   "logs [tool|run-id]",
	Short: "Show run logs",
	Long: `Show the log files written by 'toolctl run'.

Without arguments, lists recent logs with how each run ended. With a tool
name (a substring match) or the start of a run id, prints the most recent
matching log.

Examples:
  toolctl logs               # List recent logs
  toolctl logs gdalwarp      # Show the latest gdalwarp log
  toolctl logs 3f2a9c        # Show the log of one run
  toolctl logs -f            # Follow the active run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output in real-time")
	logsCmd.Flags().BoolVarP(&logsList, "list", "l", false, "List recent log files")
	logsCmd.Flags().IntVar(&logsRecent, "recent", 10, "Number of recent logs to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.CLIFlags{LogLevel: rootLogLevel})
	if err != nil {
		return err
	}

	var filter string
	if len(args) == 1 {
		filter = args[0]
	}
	out := cmd.OutOrStdout()

	switch {
	case logsFollow:
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return followLogs(ctx, cfg, out, filter)
	case logsList || filter == "":
		return listLogs(out, cfg.LogsDir, filter, logsRecent)
	default:
		return showLatestLog(out, cfg.LogsDir, filter)
	}
}

// listLogs lists recent log files.
func listLogs(w io.Writer, logsDir, filter string, recent int) error {
	logs, err := runlog.FindLogs(logsDir, filter)
	if err != nil {
		return fmt.Errorf("failed to find logs: %w", err)
	}

	if len(logs) == 0 {
		fmt.Fprintln(w, "No log files found.")
		if logsDir == "" {
			logsDir = dirs.LogsDir()
		}
		fmt.Fprintf(w, "Log directory: %s\n", logsDir)
		return nil
	}

	fmt.Fprintf(w, "Recent log files (showing %d):\n", min(recent, len(logs)))
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for i, lf := range logs {
		if i >= recent {
			break
		}
		status := "[" + lf.Status() + "]"
		if lf.IsActive {
			status = "[ACTIVE]"
		}
		fmt.Fprintf(w, "  %s  %-30s %s\n", lf.Timestamp.Format("2006-01-02 15:04:05"), lf.Tool, status)
		if lf.RunID != "" {
			fmt.Fprintf(w, "    run %s\n", lf.RunID)
		}
		fmt.Fprintf(w, "    %s\n", lf.Path)
	}
	return nil
}

// showLatestLog prints the most recent log matching filter.
func showLatestLog(w io.Writer, logsDir, filter string) error {
	lf, err := runlog.FindLatestLog(logsDir, filter)
	if err != nil {
		return fmt.Errorf("failed to find log: %w", err)
	}
	if lf == nil {
		fmt.Fprintf(w, "No logs found for: %s\n", filter)
		fmt.Fprintln(w, "Tip: Use 'toolctl logs -l' to list all logs")
		return nil
	}

	fmt.Fprintf(w, "Log for %s (%s):\n", lf.Tool, lf.Timestamp.Format("2006-01-02 15:04:05"))
	if lf.IsActive {
		fmt.Fprintln(w, "[ACTIVE RUN]")
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))

	data, err := os.ReadFile(lf.Path)
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// followLogs tails the active, or else the latest, log file. tail itself is
// run under a controller so interrupting stops it like any other tool.
func followLogs(ctx context.Context, cfg *config.Config, w io.Writer, filter string) error {
	logs, err := runlog.FindLogs(cfg.LogsDir, filter)
	if err != nil {
		return fmt.Errorf("failed to find logs: %w", err)
	}
	if len(logs) == 0 {
		fmt.Fprintln(w, "No logs found to follow.")
		return nil
	}
	lf := logs[0]
	for _, l := range logs {
		if l.IsActive {
			lf = l
			break
		}
	}
	if lf.IsActive {
		fmt.Fprintf(w, "Following active run: %s\n", lf.Tool)
	} else {
		fmt.Fprintf(w, "No active run found. Following most recent log: %s\n", lf.Tool)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))

	desc := &tool.Descriptor{
		Name:       "tail",
		Executable: "tail",
		Args:       []string{"-f", lf.Path},
		Stdout:     output.NewHandler(output.Options{Stream: stream.NewText(w, false), Keywords: []output.Keyword{}}),
	}
	c := controller.New(controller.Options{
		PreRunHook:   func([]string) {},
		PollInterval: cfg.PollInterval(),
	})
	var res controller.Result
	c.Subscribe(func(r controller.Result) { res = r })
	c.Run(desc, nil)
	_ = c.Wait(ctx)

	if res.Err != nil {
		return fmt.Errorf("follow log: %w", res.Err)
	}
	return nil
}
