package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
)

func TestRunSummaryMarkdown(t *testing.T) {
	tests := []struct {
		name string
		sum  runSummary
		want []string
		not  []string
	}{
		{
			name: "finished",
			sum: runSummary{
				Result:   controller.Result{Cmdline: []string{"gdalinfo", "a b.tif"}, Pid: 42, Duration: 90 * time.Second},
				Lines:    10,
				Warnings: 1,
				LogPath:  "/logs/x.log",
			},
			want: []string{"## Finished", "| Command | `gdalinfo \"a b.tif\"` |", "| Pid | 42 |", "| Duration | 1m 30s |", "10 lines, 1 warnings, 0 errors", "| Log | `/logs/x.log` |"},
			not:  []string{"| Error |"},
		},
		{
			name: "exit code",
			sum:  runSummary{Result: controller.Result{ExitCode: 3}},
			want: []string{"## Exited with code 3", "| Exit code | 3 |"},
			not:  []string{"| Pid |", "| Log |"},
		},
		{
			name: "stopped",
			sum:  runSummary{Result: controller.Result{StoppedByUser: true, ExitCode: -1}},
			want: []string{"## Stopped"},
		},
		{
			name: "failed",
			sum:  runSummary{Result: controller.Result{Err: errors.New("no such file"), ExitCode: -1}},
			want: []string{"## Failed to run", "| Error | no such file |"},
		},
		{
			name: "pipe in command is escaped",
			sum:  runSummary{Result: controller.Result{Cmdline: []string{"sh", "-c", "a|b"}}},
			want: []string{`a\|b`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := tt.sum.Markdown()
			for _, w := range tt.want {
				assert.Contains(t, md, w)
			}
			for _, n := range tt.not {
				assert.NotContains(t, md, n)
			}
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := renderMarkdown("## Finished\n\nall good\n", 80)
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "good")
}
