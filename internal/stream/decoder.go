package stream

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DataPrefix is the only SSE field the crew server emits.
const DataPrefix = "data: "

// Frame is one accepted `data: ` line of the stream.
type Frame struct {
	Index int    // ordinal within this decoder's stream
	Raw   string // full line, prefix included
}

// Decoder maintains state across chunks to handle partial lines and
// multi-byte characters split between reads.
type Decoder struct {
	text    transform.Transformer
	pending []byte // undecoded tail of an incomplete UTF-8 sequence
	buffer  []byte // decoded text not yet terminated by '\n'
	index   int
}

func NewDecoder() *Decoder {
	return &Decoder{text: unicode.UTF8.NewDecoder()}
}

// Feed processes raw bytes from the stream and yields complete frames.
// The trailing partial line is kept for the next call.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buffer = append(d.buffer, d.decode(chunk, false)...)
	var frames []Frame

	for {
		idx := bytes.IndexByte(d.buffer, '\n')
		if idx == -1 {
			break
		}

		line := string(d.buffer[:idx])
		d.buffer = d.buffer[idx+1:]

		if f, ok := d.accept(line); ok {
			frames = append(frames, f)
		}
	}

	return frames
}

// Flush drains the decoder at end of stream. It returns the leftover line
// when it is a data frame, and resets the decoder.
func (d *Decoder) Flush() (Frame, bool) {
	d.buffer = append(d.buffer, d.decode(nil, true)...)
	line := string(d.buffer)
	d.buffer = nil
	d.pending = nil
	d.text.Reset()

	if strings.TrimSpace(line) == "" {
		return Frame{}, false
	}
	return d.accept(line)
}

// Buffered reports how many decoded bytes are waiting for a newline.
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

func (d *Decoder) accept(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, DataPrefix) {
		// blank separators, event:/id: fields and comments are not used by the server
		return Frame{}, false
	}
	d.index++
	return Frame{Index: d.index, Raw: line}, true
}

// decode runs src through the UTF-8 transformer, holding back an incomplete
// trailing sequence until more bytes arrive or atEOF is set.
func (d *Decoder) decode(chunk []byte, atEOF bool) []byte {
	src := append(d.pending, chunk...)
	d.pending = nil
	if len(src) == 0 {
		return nil
	}

	out := make([]byte, 0, len(src))
	dst := make([]byte, len(src)+utf8ReplacementSlack)
	for {
		nDst, nSrc, err := d.text.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch err {
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
			continue
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
		}
		return out
	}
}

// room for U+FFFD expansions of invalid bytes
const utf8ReplacementSlack = 16
