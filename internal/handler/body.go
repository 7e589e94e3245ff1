package handler

import (
	"io"

	errs "github.com/frankli0324/go-networking/internal/errors"
)

// lengthReader turns a body that ends before its declared length into an
// *errors.IncompleteRead. It counts bytes as they came off the wire, before
// any content decoding.
type lengthReader struct {
	r        io.Reader
	expected int64 // -1 when unknown
	n        int64
}

func (l *lengthReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	switch {
	case err == io.EOF && l.expected >= 0 && l.n < l.expected:
		return n, errs.NewIncompleteRead(l.n, l.expected, io.ErrUnexpectedEOF)
	case err == io.ErrUnexpectedEOF:
		return n, errs.NewIncompleteRead(l.n, l.expected, err)
	}
	return n, err
}

// activityReader keeps the watchdog armed only for the duration of a read.
type activityReader struct {
	r  io.Reader
	wd *Watchdog
}

func (a *activityReader) Read(p []byte) (int, error) {
	a.wd.Kick()
	defer a.wd.Pause()
	return a.r.Read(p)
}

type body struct {
	io.Reader
	close func() error
}

func (b *body) Close() error { return b.close() }
