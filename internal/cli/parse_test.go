package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/alexander-akhmetov/toolctl/internal/config"
)

const captured = "start\n\r 10 % a\r 20 % b\rWarning: x\nERROR: y\ntail"

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.LogsDir = t.TempDir()
	return cfg
}

func TestParseCapture_Text(t *testing.T) {
	want := "start\n\r 10.0 % a\r 20.0 % b\nWarning: x\nERROR: y\ntail\n"

	for _, size := range []int{1, 3, 7, 4096} {
		var out bytes.Buffer
		err := parseCapture(defaultConfig(t), strings.NewReader(captured), &out, parseOptions{ChunkSize: size})
		require.NoError(t, err)
		assert.Equal(t, want, out.String(), "chunk size %d", size)
	}
}

func TestParseCapture_JSON(t *testing.T) {
	var out bytes.Buffer
	err := parseCapture(defaultConfig(t), strings.NewReader(captured), &out, parseOptions{ChunkSize: 5, JSON: true})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)

	var kinds []string
	for _, l := range lines {
		kinds = append(kinds, gjson.Get(l, "kind").String())
	}
	assert.Equal(t, []string{"text", "progress", "progress", "warning", "error", "text"}, kinds)
	assert.InDelta(t, 20.0, gjson.Get(lines[2], "percent").Float(), 1e-9)
	assert.Equal(t, "b", gjson.Get(lines[2], "text").String())
	assert.Equal(t, "tail\n", gjson.Get(lines[5], "text").String())
}

func TestParseCapture_Encoding(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Controller.Encoding = "windows-1252"

	var out bytes.Buffer
	err := parseCapture(cfg, bytes.NewReader([]byte("caf\xe9\n")), &out, parseOptions{ChunkSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "café\n", out.String())
}

func TestParseCapture_BadChunkSize(t *testing.T) {
	err := parseCapture(defaultConfig(t), strings.NewReader("x"), &bytes.Buffer{}, parseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--chunk-size")
}
