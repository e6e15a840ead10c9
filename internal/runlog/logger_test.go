package runlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexander-akhmetov/toolctl/internal/controller"
	"github.com/alexander-akhmetov/toolctl/internal/event"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 10, 20, 30, 0, time.Local)
	return func() time.Time { return t0 }
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := New(Config{
		LogsDir: tmpDir,
		Name:    "gdal translate",
		RunID:   "run-1",
		Cmdline: "gdal_translate in.tif out.tif",
		WorkDir: "/data",
		Now:     fixedClock(),
	})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, filepath.Join(tmpDir, "20260301-102030-gdal-translate.log"), l.Path())
	assert.True(t, IsPathLockedByCurrentProcess(l.Path()))

	var s stream.Stream = l
	require.NoError(t, s.Write("hello\n", event.KindNone))
	require.NoError(t, s.Write("Error: disk full\n", event.KindError))
	require.NoError(t, s.Write("warning: slow\r\n", event.KindWarning))
	require.NoError(t, s.Flush())

	require.NoError(t, l.Finish(controller.Result{Pid: 77, ExitCode: 2, Duration: 75 * time.Second}))
	assert.False(t, IsPathLockedByCurrentProcess(l.Path()))

	content := readLog(t, l.Path())
	for _, want := range []string{
		"# toolctl run log",
		"Tool: gdal translate",
		"Run: run-1",
		"Command: gdal_translate in.tif out.tif",
		"Working dir: /data",
		"Started: 2026-03-01 10:20:30",
		"[2026-03-01 10:20:30] hello\n",
		"ERROR: Error: disk full\n",
		"WARNING: warning: slow\n",
		"Exit reason: exited",
		"Pid: 77",
		"Exit code: 2",
		"Duration: 1m15s",
	} {
		assert.Contains(t, content, want)
	}
}

func TestNew_SameSecond(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Config{LogsDir: tmpDir, Name: "tool", Now: fixedClock()}

	first, err := New(cfg)
	require.NoError(t, err)
	defer first.Close()
	second, err := New(cfg)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.Path(), second.Path())
	assert.True(t, strings.HasSuffix(second.Path(), "-tool-2.log"))
}

func TestWriteProgress_Dedup(t *testing.T) {
	l, err := New(Config{LogsDir: t.TempDir(), Name: "p", Now: fixedClock()})
	require.NoError(t, err)

	updates := []event.Progress{
		{HasPercent: true, Percent: 10.2, Text: "copying"},
		{HasPercent: true, Percent: 10.7, Text: "copying"},
		{HasPercent: true, Percent: 11, Text: "copying"},
		{Pulse: "|"},
		{Pulse: "/", Text: "scanning"},
		{Pulse: "-", Text: "scanning"},
	}
	for _, p := range updates {
		require.NoError(t, stream.WriteProgress(l, p))
	}
	require.NoError(t, l.Close())

	content := readLog(t, l.Path())
	assert.Equal(t, 3, strings.Count(content, "progress: "))
	assert.Contains(t, content, "progress: 10.2 % copying")
	assert.Contains(t, content, "progress: 11.0 % copying")
	assert.Contains(t, content, "progress: / scanning")
}

func TestFinish(t *testing.T) {
	tests := []struct {
		name   string
		result controller.Result
		want   []string
	}{
		{
			name:   "stopped",
			result: controller.Result{StoppedByUser: true, ExitCode: -1},
			want:   []string{"Exit reason: stopped", "Exit code: -1", "Duration: 0s"},
		},
		{
			name:   "spawn failure",
			result: controller.Result{Err: errors.New("exec: not found"), ExitCode: -1},
			want:   []string{"Exit reason: error", "Error: exec: not found"},
		},
		{
			name:   "long run",
			result: controller.Result{Duration: 2*time.Hour + 3*time.Minute + 4*time.Second},
			want:   []string{"Exit code: 0", "Duration: 2h3m4s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(Config{LogsDir: t.TempDir(), Name: "x", Now: fixedClock()})
			require.NoError(t, err)
			require.NoError(t, l.Finish(tt.result))
			require.NoError(t, l.Finish(tt.result), "second finish is a no-op")
			require.NoError(t, l.Close())

			content := readLog(t, l.Path())
			for _, w := range tt.want {
				assert.Contains(t, content, w)
			}
			assert.Equal(t, 1, strings.Count(content, "Exit reason:"))
		})
	}
}

func TestWriteAfterClose(t *testing.T) {
	l, err := New(Config{LogsDir: t.TempDir(), Name: "x"})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.NoError(t, l.Write("late\n", event.KindNone))
	assert.NoError(t, l.Flush())
	assert.NotContains(t, readLog(t, l.Path()), "late")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple-id", "simple-id"},
		{"/usr/bin/ffmpeg", "usr-bin-ffmpeg"},
		{"has spaces here", "has-spaces-here"},
		{"C:\\tools\\x.exe", "C-tools-x.exe"},
		{"special!@#$chars", "specialchars"},
		{"", "unnamed"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeFilename(tt.input))
		})
	}
}
