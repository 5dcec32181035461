package stream

import (
	"io"
)

// TeeReadCloser splits a completion body so that reads flow to both the
// session and a background recorder pipe. A recorder that stops reading
// never fails the session: the tap is dropped and the body keeps flowing.
type TeeReadCloser struct {
	body    io.ReadCloser
	pw      *io.PipeWriter
	tapped  int64
	tapDead bool
}

// TeeBody splits an io.ReadCloser into two:
//   - sessionReader: the read loop consumes this (data also copied to pipe)
//   - tapReader: the recorder consumes this in its own goroutine
//
// The pipe is synchronous, so the recorder must keep reading until EOF.
func TeeBody(body io.ReadCloser) (sessionReader *TeeReadCloser, tapReader *io.PipeReader) {
	pr, pw := io.Pipe()
	return &TeeReadCloser{body: body, pw: pw}, pr
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 && !t.tapDead {
		if _, werr := t.pw.Write(p[:n]); werr != nil {
			t.tapDead = true
		} else {
			t.tapped += int64(n)
		}
	}
	if err != nil {
		// EOF and transport errors alike end the tap
		t.pw.CloseWithError(err)
	}
	return n, err
}

// Tapped returns the number of bytes handed to the recorder.
func (t *TeeReadCloser) Tapped() int64 {
	return t.tapped
}

func (t *TeeReadCloser) Close() error {
	t.pw.Close()
	return t.body.Close()
}
