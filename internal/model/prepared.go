package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

type PreparedRequest struct {
	*Request

	U          *url.URL
	GetBody    func() (io.ReadCloser, error)
	Header     http.Header
	HeaderHost string

	ContentLength int64

	oneShot bool // GetBody succeeds only once
}

// Prepare validates r and returns a private copy for handlers to work on.
// Nothing reachable from the returned value aliases r's maps.
func (r *Request) Prepare() (*PreparedRequest, error) {
	cp := *r
	cp.Method = strings.ToUpper(cp.Method)
	if cp.Method == "" {
		cp.Method = http.MethodGet
	}
	cp.URL = NormalizeURL(cp.URL)
	cp.Extensions = r.Extensions.Clone()
	cp.Proxies = r.Proxies.Clone()
	cp.Header = canonicalHeader(r.Header)

	u, err := url.Parse(cp.URL)
	if err != nil {
		return nil, err
	}
	u.Fragment, u.RawFragment = "", ""

	headers := cp.Header.Clone()
	host := u.Host
	cl := int64(-1)
	// user defined headers has higher priority
	if v := headers.Get("Host"); v != "" {
		host = v
	}
	headers.Del("Host")
	if v := headers.Get("Content-Length"); v != "" {
		if v, err := strconv.ParseInt(v, 10, 64); err == nil {
			cl = v
		}
	}
	headers.Del("Content-Length")
	if host == "" {
		return nil, url.InvalidHostError("empty host")
	}

	pr := &PreparedRequest{
		Request: &cp, U: u,
		Header: headers, HeaderHost: host,
		ContentLength: cl,
	}
	if err := pr.updateBody(); err != nil {
		// note that updateBody potentially updates content-length
		return nil, err
	}
	if cl != -1 && pr.ContentLength != -1 && pr.ContentLength != cl {
		return nil, errors.New("conflicting value between body size and content-length request header")
	}
	if cl != -1 {
		pr.ContentLength = cl
	}
	return pr, nil
}

// Redirected derives the request for the next hop of a redirect chain.
// When dropBody is set the body and its describing headers are discarded.
func (r *PreparedRequest) Redirected(location *url.URL, method string, dropBody bool) *PreparedRequest {
	cp := *r.Request
	cp.Method = method
	cp.URL = location.String()
	next := &PreparedRequest{
		Request: &cp, U: location,
		Header: r.Header.Clone(), HeaderHost: location.Host,
		GetBody: r.GetBody, ContentLength: r.ContentLength,
		oneShot: r.oneShot,
	}
	if dropBody {
		cp.Body = nil
		next.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		next.ContentLength = -1
		next.oneShot = false
		for _, h := range []string{"Content-Type", "Content-Encoding", "Content-Language", "Transfer-Encoding"} {
			next.Header.Del(h)
		}
	}
	if r.U.Host != location.Host {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}
	return next
}

// Replayable reports whether the body can be sent again, e.g. when a
// request is retried on a fresh connection.
func (r *PreparedRequest) Replayable() bool {
	return !r.oneShot
}

// HasBody reports whether a request body will be sent.
func (r *PreparedRequest) HasBody() bool {
	return r.Request.Body != nil
}

// should only be called once at [Prepare]
func (r *PreparedRequest) updateBody() (err error) {
	if r.Request.Body == nil {
		r.GetBody = func() (io.ReadCloser, error) {
			return http.NoBody, nil
		}
		return nil
	}
	switch b := r.Request.Body.(type) {
	case string:
		r.ContentLength = int64(len(b))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(b)), nil
		}
	case []byte:
		r.ContentLength = int64(len(b))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	case *bytes.Buffer: // below is taken from http.NewRequest
		r.ContentLength = int64(b.Len())
		buf := b.Bytes()
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
	case *bytes.Reader:
		r.ContentLength = int64(b.Len())
		snapshot := *b
		r.GetBody = func() (io.ReadCloser, error) {
			r := snapshot
			return io.NopCloser(&r), nil
		}
	case *strings.Reader:
		r.ContentLength = int64(b.Len())
		snapshot := *b
		r.GetBody = func() (io.ReadCloser, error) {
			r := snapshot
			return io.NopCloser(&r), nil
		}
	case io.Reader:
		if sizer, ok := b.(interface{ Size() int64 }); ok {
			r.ContentLength = sizer.Size()
		}
		cb, ok := b.(io.ReadCloser)
		if !ok {
			cb = io.NopCloser(b)
		}
		r.oneShot = true
		var once atomic.Bool
		r.GetBody = func() (io.ReadCloser, error) {
			if once.CompareAndSwap(false, true) {
				return &callerBody{cb}, nil
			}
			return nil, &BodyError{http.ErrBodyReadAfterClose}
		}
	default:
		return fmt.Errorf("unsupported body type: %T", r.Request.Body)
	}
	return nil
}

// BodyError is a failure of the caller supplied request body, as opposed
// to the connection it was being written to.
type BodyError struct{ Err error }

func (e *BodyError) Error() string { return "request body: " + e.Err.Error() }
func (e *BodyError) Unwrap() error { return e.Err }

type callerBody struct{ io.ReadCloser }

func (b *callerBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		err = &BodyError{err}
	}
	return n, err
}

func canonicalHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ck := http.CanonicalHeaderKey(k)
		out[ck] = append(out[ck], h[k]...)
	}
	return out
}

// NormalizeURL percent-encodes bytes that may not appear in a URL (spaces,
// control characters and non-ASCII) and leaves everything else untouched.
// Existing escapes keep their case: some servers compare them verbatim.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c <= ' ' || c >= 0x7f {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
