package stream

import (
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/alexander-akhmetov/toolctl/internal/event"
)

// JSON records events as JSON lines, one object per event:
//
//	{"seq":3,"run":"…","stream":"stdout","kind":"progress","percent":42.5,"text":"done"}
//
// Several channels (stdout, stderr) share one recorder so seq orders the
// whole capture.
type JSON struct {
	mu     sync.Mutex
	out    io.Writer
	run    string
	seq    int
	pretty bool
}

// NewJSON creates a recorder writing to w. With prettyPrint each record is
// indented across several lines; replay still accepts that form.
func NewJSON(w io.Writer, runID string, prettyPrint bool) *JSON {
	return &JSON{out: w, run: runID, pretty: prettyPrint}
}

// SetRun changes the run identifier stamped on subsequent records.
func (j *JSON) SetRun(runID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.run = runID
}

// Channel returns a Stream whose records carry the given stream name.
func (j *JSON) Channel(name string) Stream {
	return &jsonChannel{rec: j, name: name}
}

func (j *JSON) emit(name string, set func(rec []byte) ([]byte, error)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	rec := []byte(`{}`)
	var err error
	if rec, err = sjson.SetBytes(rec, "seq", j.seq); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if j.run != "" {
		if rec, err = sjson.SetBytes(rec, "run", j.run); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	if rec, err = sjson.SetBytes(rec, "stream", name); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if rec, err = set(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if j.pretty {
		rec = pretty.Pretty(rec)
	} else {
		rec = append(rec, '\n')
	}
	if _, err := j.out.Write(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

type jsonChannel struct {
	rec  *JSON
	name string
}

func (c *jsonChannel) Write(text string, kind event.Kind) error {
	return c.rec.emit(c.name, func(rec []byte) ([]byte, error) {
		rec, err := sjson.SetBytes(rec, "kind", kind.String())
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(rec, "text", text)
	})
}

func (c *jsonChannel) WriteProgress(p event.Progress) error {
	return c.rec.emit(c.name, func(rec []byte) ([]byte, error) {
		rec, err := sjson.SetBytes(rec, "kind", event.KindProgress.String())
		if err != nil {
			return nil, err
		}
		if p.Pulse != "" {
			if rec, err = sjson.SetBytes(rec, "pulse", p.Pulse); err != nil {
				return nil, err
			}
		}
		if p.HasPercent {
			if rec, err = sjson.SetBytes(rec, "percent", p.Percent); err != nil {
				return nil, err
			}
		}
		if p.Text != "" {
			if rec, err = sjson.SetBytes(rec, "text", p.Text); err != nil {
				return nil, err
			}
		}
		return rec, nil
	})
}

func (c *jsonChannel) Flush() error {
	if f, ok := c.rec.out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
