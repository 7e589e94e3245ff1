package model

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Response is the result of a successful exchange. The caller owns the body
// and must Close the Response exactly once, though extra calls are harmless.
type Response struct {
	Status int
	Reason string
	URL    string
	Header http.Header

	body      io.ReadCloser
	translate func(error) error
	closeOnce sync.Once
	closeErr  error
}

// NewResponse wraps body. translate, if not nil, is applied to every read
// error other than io.EOF so that backend errors never reach the caller.
func NewResponse(status int, reason, url string, header http.Header, body io.ReadCloser, translate func(error) error) *Response {
	if body == nil {
		body = http.NoBody
	}
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status: status, Reason: reason, URL: url, Header: header,
		body: body, translate: translate,
	}
}

func (r *Response) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if err != nil && err != io.EOF && r.translate != nil {
		err = r.translate(err)
	}
	return n, err
}

// ReadN returns up to amount bytes, blocking until that many are available
// or the stream ends. A negative amount reads everything that remains.
// io.EOF is only returned when nothing could be read.
func (r *Response) ReadN(amount int) ([]byte, error) {
	if amount < 0 {
		b, err := io.ReadAll(r)
		return b, err
	}
	buf := make([]byte, amount)
	n, err := io.ReadFull(r, buf)
	switch {
	case err == io.ErrUnexpectedEOF:
		err = nil
	case err == io.EOF && n > 0:
		err = nil
	}
	return buf[:n], err
}

// Close releases the underlying connection.
func (r *Response) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.body.Close()
	})
	return r.closeErr
}

// String is meant for logging, it never touches the body.
func (r *Response) String() string {
	return fmt.Sprintf("%d %s (%s)", r.Status, r.Reason, r.URL)
}

// ExtensionTypeError reports an extension whose value has the wrong type or
// an invalid value.
type ExtensionTypeError struct {
	Key   string
	Value interface{}
}

func (e *ExtensionTypeError) Error() string {
	return fmt.Sprintf("invalid value for extension %q: %v (%T)", e.Key, e.Value, e.Value)
}

var ErrUnsupportedExtension = errors.New("unsupported extension")
