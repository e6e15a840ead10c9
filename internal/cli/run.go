package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexander-akhmetov/toolctl/internal/config"
)

var (
	runSet            []string
	runEnv            []string
	runDir            string
	runPTY            bool
	runSeparateStderr bool
	runEncoding       string
	runJSON           bool
	runPretty         bool
	runTUI            bool
	runNoLog          bool
	runNoSummary      bool
	runGrace          time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <tool|executable> [args...]",
	Short: "Run a tool and parse its output",
	Long: `Run a tool from the catalog, or any executable, and present its output.

Progress updates written with carriage returns are shown as a single
updating row; lines matching the configured keywords are highlighted as
errors or warnings. Every run is recorded in a log file unless --no-log is
given. toolctl exits with the tool's exit code.

Flags after the tool name are passed to the tool.

Examples:
  toolctl run gdal_translate -of GTiff in.vrt out.tif
  toolctl run --set quality=high encode input.mov
  toolctl run --pty --tui rsync -a --info=progress2 src/ dst/
  toolctl run --json ffmpeg -i in.mkv out.mp4 > capture.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.SetInterspersed(false)
	f.StringArrayVar(&runSet, "set", nil, "Named argument key=value, passed as key=value before the tool's own arguments (repeatable)")
	f.StringArrayVar(&runEnv, "env", nil, "Environment override KEY=VALUE (repeatable)")
	f.StringVarP(&runDir, "dir", "d", "", "Working directory for the tool")
	f.BoolVar(&runPTY, "pty", false, "Run the tool on a pseudo-terminal (POSIX only)")
	f.BoolVar(&runSeparateStderr, "separate-stderr", false, "Parse stderr separately instead of merging it into stdout")
	f.StringVar(&runEncoding, "encoding", "", "Encoding of the tool's output (default from config, utf-8)")
	f.BoolVar(&runJSON, "json", false, "Write parsed events as JSON lines to stdout")
	f.BoolVar(&runPretty, "pretty", false, "Indent JSON records (with --json)")
	f.BoolVar(&runTUI, "tui", false, "Show an interactive terminal UI")
	f.BoolVar(&runNoLog, "no-log", false, "Do not write a run log file")
	f.BoolVar(&runNoSummary, "no-summary", false, "Do not print the summary after the run")
	f.DurationVar(&runGrace, "grace", 0, "Grace period between the polite stop signal and kill")
	runCmd.MarkFlagsMutuallyExclusive("json", "tui")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.CLIFlags{
		LogLevel:       rootLogLevel,
		GracePeriod:    runGrace,
		Encoding:       runEncoding,
		SeparateStderr: runSeparateStderr,
	})
	if err != nil {
		return err
	}

	set, err := parseKeyValues("set", runSet)
	if err != nil {
		return err
	}
	env, err := parseKeyValues("env", runEnv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newSession(cfg, runOptions{
		Target:  args[0],
		Args:    args[1:],
		Set:     set,
		Env:     env,
		Dir:     runDir,
		PTY:     runPTY,
		JSON:    runJSON,
		Pretty:  runPretty,
		TUI:     runTUI,
		NoLog:   runNoLog,
		Summary: !runNoSummary && isTerminal(cmd.OutOrStdout()),
	}, cmd.OutOrStdout(), cmd.ErrOrStderr())

	res, err := s.run(ctx)
	if err != nil {
		return err
	}
	return resultError(res)
}
