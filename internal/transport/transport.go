package transport

import (
	"bufio"
	"io"
	"net/http"

	"github.com/frankli0324/go-networking/internal/model"
)

type Transport interface {
	Read(r *bufio.Reader, req *model.PreparedRequest, resp *Response) error
	Write(w io.Writer, req *model.PreparedRequest) error
}

// Response is a response as it came off the wire, before redirects,
// cookies or content decoding are applied.
type Response struct {
	Proto      string
	Status     string // e.g. "200 OK"
	StatusCode int
	Reason     string
	Header     http.Header

	// ContentLength is -1 when the body is delimited by chunked framing or
	// by the connection closing.
	ContentLength int64
	Body          io.Reader

	// Close is set when the connection cannot carry another request.
	Close bool
}
