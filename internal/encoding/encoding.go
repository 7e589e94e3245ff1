// Package encoding undoes HTTP content codings on response bodies.
package encoding

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// Supported lists the codings Decode understands, in the order they are
// advertised in Accept-Encoding.
var Supported = []string{"gzip", "deflate", "br"}

// DecodeError is a body that does not match its declared coding.
type DecodeError struct {
	Coding string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s body: %v", e.Coding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode wraps body so that reads return the payload with every coding of
// contentEncoding removed. Codings are undone last applied first. Unknown
// codings are left in place and the remaining body is returned as is.
// Decoders are created on first read, so Decode itself never blocks.
func Decode(body io.ReadCloser, contentEncoding string) io.ReadCloser {
	codings := parse(contentEncoding)
	if len(codings) == 0 {
		return body
	}
	var r io.Reader = body
	for i := len(codings) - 1; i >= 0; i-- {
		if !known(codings[i]) {
			break
		}
		r = &decoder{coding: codings[i], src: &source{r: r}}
	}
	return &readCloser{Reader: r, Closer: body}
}

func parse(header string) []string {
	var out []string
	for _, c := range strings.Split(header, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || c == "identity" {
			continue
		}
		if c == "x-gzip" {
			c = "gzip"
		}
		out = append(out, c)
	}
	return out
}

func known(coding string) bool {
	for _, s := range Supported {
		if s == coding {
			return true
		}
	}
	return false
}

type readCloser struct {
	io.Reader
	io.Closer
}

// source remembers the error of the wrapped reader so that it is not
// mistaken for a malformed stream.
type source struct {
	r   io.Reader
	err error
}

func (s *source) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

type decoder struct {
	coding string
	src    *source
	r      io.Reader
}

func (d *decoder) Read(p []byte) (int, error) {
	if d.r == nil {
		r, err := d.open()
		if err != nil {
			return 0, d.wrap(err)
		}
		d.r = r
	}
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		err = d.wrap(err)
	}
	return n, err
}

func (d *decoder) open() (io.Reader, error) {
	br := bufio.NewReader(d.src)
	head, err := br.Peek(2)
	switch {
	case len(head) == 0 && err == io.EOF:
		return eofReader{}, nil // nothing was coded
	case len(head) < 2 && err != io.EOF:
		return nil, err
	}
	switch d.coding {
	case "gzip":
		return gzip.NewReader(br)
	case "deflate":
		// servers disagree on whether deflate means zlib or raw deflate
		if len(head) == 2 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 && head[0]&0x0f == 8 {
			return zlib.NewReader(br)
		}
		return flate.NewReader(br), nil
	case "br":
		return brotli.NewReader(br), nil
	}
	return br, nil
}

func (d *decoder) wrap(err error) error {
	if d.src.err != nil && (errors.Is(err, d.src.err) || err == io.ErrUnexpectedEOF) {
		return d.src.err
	}
	if err == io.EOF { // header cut short
		err = io.ErrUnexpectedEOF
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Coding: d.coding, Err: err}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
