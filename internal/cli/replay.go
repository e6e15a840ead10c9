package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/alexander-akhmetov/toolctl/internal/event"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
)

var replayStream string

var replayCmd = &cobra.Command{
	Use:   "replay <capture.jsonl>",
	Short: "Render a JSON capture from `run --json` as terminal output",
	Long: `Read a JSON-lines capture written by 'toolctl run --json' (indented
records from --pretty are accepted too) and print it as the text stream
would have: stdout records to stdout, stderr records to stderr.

Examples:
  toolctl replay capture.jsonl
  toolctl replay --stream stderr capture.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayStream, "stream", "", "Only replay records of this stream (stdout or stderr)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	return replay(f, stream.NewText(stdout, isTerminal(stdout)), stream.NewText(stderr, isTerminal(stderr)), replayStream)
}

// replay decodes capture records from r and writes them to out or errOut
// by their stream name. A non-empty only keeps records of that stream.
func replay(r io.Reader, out, errOut stream.Stream, only string) error {
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("record %d: %w", n, err)
		}

		rec := gjson.ParseBytes(raw)
		if !rec.IsObject() {
			return fmt.Errorf("record %d: not an object", n)
		}
		name := rec.Get("stream").String()
		if only != "" && name != only {
			continue
		}
		sink := out
		if name == "stderr" {
			sink = errOut
		}

		var err error
		kind := event.ParseKind(rec.Get("kind").String())
		if kind == event.KindProgress {
			pct := rec.Get("percent")
			err = stream.WriteProgress(sink, event.Progress{
				Pulse:      rec.Get("pulse").String(),
				Percent:    pct.Float(),
				HasPercent: pct.Exists(),
				Text:       rec.Get("text").String(),
			})
		} else {
			err = sink.Write(rec.Get("text").String(), kind)
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
	}
	return errors.Join(out.Flush(), errOut.Flush())
}
