package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexander-akhmetov/toolctl/internal/config"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
)

var (
	parseChunkSize int
	parseJSON      bool
	parsePretty    bool
	parseEncoding  string
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse captured tool output without running anything",
	Long: `Feed captured output (a file, or stdin) through the output parser in
fixed-size chunks and print the resulting events. Useful for checking how a
tool's output will be classified.

Examples:
  toolctl parse build.log
  ffmpeg -i in.mkv out.mp4 2>&1 | toolctl parse --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().IntVar(&parseChunkSize, "chunk-size", 4096, "Bytes fed to the parser per call")
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "Print events as JSON lines")
	parseCmd.Flags().BoolVar(&parsePretty, "pretty", false, "Indent JSON records (with --json)")
	parseCmd.Flags().StringVar(&parseEncoding, "encoding", "", "Encoding of the input (default from config, utf-8)")
}

type parseOptions struct {
	ChunkSize int
	JSON      bool
	Pretty    bool
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.CLIFlags{LogLevel: rootLogLevel, Encoding: parseEncoding})
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer f.Close()
		in = f
	}

	return parseCapture(cfg, in, cmd.OutOrStdout(), parseOptions{
		ChunkSize: parseChunkSize,
		JSON:      parseJSON,
		Pretty:    parsePretty,
	})
}

// parseCapture decodes r with the configured encoding and feeds it through
// an output handler chunk by chunk, writing events to w.
func parseCapture(cfg *config.Config, r io.Reader, w io.Writer, opts parseOptions) error {
	if opts.ChunkSize <= 0 {
		return fmt.Errorf("--chunk-size must be positive, got %d", opts.ChunkSize)
	}
	dec, err := stream.NewDecoder(cfg.Controller.Encoding)
	if err != nil {
		return err
	}

	var sink stream.Stream
	if opts.JSON {
		sink = stream.NewJSON(w, "", opts.Pretty).Channel("stdout")
	} else {
		sink = stream.NewText(w, isTerminal(w))
	}

	s := &session{cfg: cfg}
	h, err := s.handler(sink)
	if err != nil {
		return err
	}

	var errs []error
	buf := make([]byte, opts.ChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := h.Feed(dec.Decode(buf[:n], false)); err != nil {
				errs = append(errs, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read capture: %w", readErr)
		}
	}
	if err := h.Feed(dec.Decode(nil, true)); err != nil {
		errs = append(errs, err)
	}
	if err := h.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
