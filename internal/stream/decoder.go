package stream

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "utf-8"

// Decoder turns raw process output into UTF-8 text chunk by chunk. A
// multi-byte sequence split across two reads is held back until the rest
// arrives, so no character is mangled at a chunk boundary.
type Decoder struct {
	name    string
	t       transform.Transformer
	pending []byte
	dst     []byte
}

// NewDecoder returns a decoder for the named encoding (WHATWG names such as
// "utf-8", "windows-1252", "iso-8859-1", "shift_jis").
func NewDecoder(name string) (*Decoder, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return &Decoder{
		name: name,
		t:    enc.NewDecoder(),
		dst:  make([]byte, 4096),
	}, nil
}

// ValidEncoding reports whether name is a known encoding.
func ValidEncoding(name string) bool {
	if name == "" {
		return true
	}
	_, err := htmlindex.Get(name)
	return err == nil
}

// Name returns the configured encoding name.
func (d *Decoder) Name() string { return d.name }

// Decode converts b. With atEOF set, any held-back partial sequence is
// flushed as replacement characters.
func (d *Decoder) Decode(b []byte, atEOF bool) string {
	src := b
	if len(d.pending) > 0 {
		src = append(d.pending, b...)
		d.pending = nil
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.dst, src, atEOF)
		out.Write(d.dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String()
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				d.dst = make([]byte, 2*len(d.dst))
			}
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			return out.String()
		default:
			// undecodable input: replace one byte and carry on
			if len(src) == 0 {
				return out.String()
			}
			out.WriteRune(utf8.RuneError)
			src = src[1:]
		}
	}
}

// Reset drops held-back bytes and decoder state.
func (d *Decoder) Reset() {
	d.pending = nil
	d.t.Reset()
}
