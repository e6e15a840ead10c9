package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexander-akhmetov/toolctl/internal/event"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
)

func capture(t *testing.T, pretty bool) string {
	t.Helper()
	var buf bytes.Buffer
	rec := stream.NewJSON(&buf, "run-1", pretty)
	out, errOut := rec.Channel("stdout"), rec.Channel("stderr")

	require.NoError(t, out.Write("a\n", event.KindNone))
	require.NoError(t, stream.WriteProgress(out, event.Progress{HasPercent: true, Percent: 5}))
	require.NoError(t, stream.WriteProgress(out, event.Progress{Pulse: "/", Text: "scan"}))
	require.NoError(t, out.Write("b\n", event.KindNone))
	require.NoError(t, errOut.Write("w\n", event.KindWarning))
	return buf.String()
}

func TestReplay(t *testing.T) {
	for _, pretty := range []bool{false, true} {
		var out, errOut bytes.Buffer
		err := replay(strings.NewReader(capture(t, pretty)), stream.NewText(&out, false), stream.NewText(&errOut, false), "")
		require.NoError(t, err)

		assert.Equal(t, "a\n\r  5.0 %\r/ scan\nb\n", out.String(), "pretty=%v", pretty)
		assert.Equal(t, "w\n", errOut.String())
	}
}

func TestReplay_StreamFilter(t *testing.T) {
	var out, errOut bytes.Buffer
	err := replay(strings.NewReader(capture(t, false)), stream.NewText(&out, false), stream.NewText(&errOut, false), "stderr")
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.Equal(t, "w\n", errOut.String())
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "truncated", input: `{"kind":"text"`, want: "record 1"},
		{name: "not an object", input: `{"kind":"text","text":"x\n"}` + "\n[1]", want: "record 2: not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := replay(strings.NewReader(tt.input), stream.Discard, stream.Discard, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
