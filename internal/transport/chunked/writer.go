package chunked

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var errClosed = errors.New("chunked: write after close")

// Writer frames everything written to it as HTTP/1.1 chunks. Each Write is
// one chunk and is flushed right away when the underlying writer buffers,
// so lazily produced bodies stream as they are read.
type Writer struct {
	w      io.Writer
	closed bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (cw *Writer) Write(data []byte) (int, error) {
	if cw.closed {
		return 0, errClosed
	}
	// a zero sized chunk would end the body
	if len(data) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(cw.w, "%x\r\n", len(data)); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(data)
	if err != nil {
		return n, err
	}
	if n != len(data) {
		return n, io.ErrShortWrite
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return n, err
	}
	if f, ok := cw.w.(interface{ Flush() error }); ok {
		return n, f.Flush()
	}
	return n, nil
}

// CloseWithTrailer writes the last chunk followed by trailer, which may be
// nil. The underlying writer is not closed.
func (cw *Writer) CloseWithTrailer(trailer http.Header) error {
	if cw.closed {
		return errClosed
	}
	cw.closed = true
	if _, err := io.WriteString(cw.w, "0\r\n"); err != nil {
		return err
	}
	if err := trailer.Write(cw.w); err != nil {
		return err
	}
	_, err := io.WriteString(cw.w, "\r\n")
	return err
}

func (cw *Writer) Close() error { return cw.CloseWithTrailer(nil) }
