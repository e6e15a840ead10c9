package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
)

// runSummary is the report printed after an interactive run.
type runSummary struct {
	Result   controller.Result
	Lines    int
	Warnings int
	Errors   int
	LogPath  string
}

func (s runSummary) heading() string {
	r := s.Result
	switch {
	case r.Err != nil:
		return "Failed to run"
	case r.StoppedByUser:
		return "Stopped"
	case r.ExitCode != 0:
		return fmt.Sprintf("Exited with code %d", r.ExitCode)
	default:
		return "Finished"
	}
}

// Markdown renders the summary as a markdown table.
func (s runSummary) Markdown() string {
	r := s.Result
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", s.heading())
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Command | `%s` |\n", strings.ReplaceAll(controller.FormatCmdline(r.Cmdline), "|", "\\|"))
	if r.Pid > 0 {
		fmt.Fprintf(&b, "| Pid | %d |\n", r.Pid)
	}
	fmt.Fprintf(&b, "| Exit code | %d |\n", r.ExitCode)
	fmt.Fprintf(&b, "| Duration | %s |\n", formatElapsed(r.Duration))
	fmt.Fprintf(&b, "| Output | %d lines, %d warnings, %d errors |\n", s.Lines, s.Warnings, s.Errors)
	if r.Err != nil {
		fmt.Fprintf(&b, "| Error | %s |\n", r.Err)
	}
	if s.LogPath != "" {
		fmt.Fprintf(&b, "| Log | `%s` |\n", s.LogPath)
	}
	return b.String()
}

// renderMarkdown renders md for the terminal, falling back to the raw
// markdown when glamour fails.
func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-6, 40)),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
