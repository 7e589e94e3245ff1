package transport

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/transport/chunked"
)

// HTTP1 is an HTTP/1.1 codec. When Proxied is set requests are written in
// absolute-form, as expected by a forwarding proxy.
type HTTP1 struct {
	Proxied bool
}

// ProtocolError is a malformed message from the peer.
type ProtocolError struct{ Msg string }

func (e *ProtocolError) Error() string { return "http1: " + e.Msg }

func (t HTTP1) Write(w io.Writer, r *model.PreparedRequest) error {
	body, err := r.GetBody() // can write body
	if err != nil {
		return err
	}
	defer body.Close() // request body is ALWAYS closed
	hasBody := body != http.NoBody
	chunk := hasBody && r.ContentLength == -1

	bw := bufio.NewWriter(w) // default bufsize is 4096
	if err := t.writeHeader(bw, r, hasBody, chunk); err != nil {
		return err
	}
	if hasBody {
		if chunk {
			cw := chunked.NewWriter(bw)
			if _, err := io.Copy(cw, body); err != nil {
				return err
			}
			if err := cw.CloseWithTrailer(nil); err != nil {
				return err
			}
		} else if _, err := io.Copy(bw, body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (t HTTP1) target(r *model.PreparedRequest) string {
	switch {
	case r.Method == http.MethodConnect:
		return r.U.Host
	case t.Proxied:
		u := *r.U
		u.Fragment, u.RawFragment = "", ""
		return u.String()
	}
	return r.U.RequestURI()
}

// writeHeader writes the status and header part of an http 1.1 request
// e.g.:
//
//	GET / HTTP/1.1\r\n
//	Host: www.google.com\r\n
//	X-Xx-Yy: cccccc\r\n
//	\r\n
func (t HTTP1) writeHeader(header *bufio.Writer, r *model.PreparedRequest, hasBody, chunk bool) error {
	header.WriteString(r.Method)
	header.WriteByte(' ')
	header.WriteString(t.target(r))
	header.WriteString(" HTTP/1.1\r\n")

	header.WriteString("Host: ")
	header.WriteString(r.HeaderHost)
	header.WriteString("\r\n")
	if chunk {
		header.WriteString("Transfer-Encoding: chunked\r\n")
	} else if r.ContentLength != -1 && (hasBody || r.ContentLength > 0) {
		header.WriteString("Content-Length: ")
		header.WriteString(strconv.FormatInt(r.ContentLength, 10))
		header.WriteString("\r\n")
	}
	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, "Transfer-Encoding") {
			continue
		}
		for _, v := range r.Header[k] {
			header.WriteString(k)
			header.WriteString(": ")
			header.WriteString(v)
			header.WriteString("\r\n")
		}
	}
	_, err := header.WriteString("\r\n")
	return err
}

func (t HTTP1) Read(r *bufio.Reader, req *model.PreparedRequest, resp *Response) (err error) {
	tp := textproto.NewReader(r)

	for {
		if err := t.readStatus(tp, resp); err != nil {
			return err
		}
		// Parse the response headers.
		mimeHeader, err := tp.ReadMIMEHeader()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		resp.Header = http.Header(mimeHeader)
		// interim responses are skipped, 101 is final for our purposes
		if resp.StatusCode < 100 || resp.StatusCode >= 200 || resp.StatusCode == http.StatusSwitchingProtocols {
			break
		}
	}
	if hp, ok := resp.Header["Pragma"]; ok && len(hp) > 0 && hp[0] == "no-cache" {
		if _, presentcc := resp.Header["Cache-Control"]; !presentcc {
			resp.Header["Cache-Control"] = []string{"no-cache"}
		}
	}
	// after 101 the connection speaks another protocol
	resp.Close = shouldClose(resp.Proto, resp.Header) || resp.StatusCode == http.StatusSwitchingProtocols
	return t.readTransfer(r, req, resp)
}

func (t HTTP1) readStatus(tp *textproto.Reader, resp *Response) error {
	line, err := tp.ReadLine()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	proto, status, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return &ProtocolError{"malformed HTTP response " + strconv.Quote(line)}
	}
	resp.Proto = proto
	resp.Status = strings.TrimLeft(status, " ")

	statusCode, reason, _ := strings.Cut(resp.Status, " ")
	if len(statusCode) != 3 {
		return &ProtocolError{"malformed HTTP status code " + statusCode}
	}
	resp.StatusCode, err = strconv.Atoi(statusCode)
	if err != nil || resp.StatusCode < 0 {
		return &ProtocolError{"malformed HTTP status code " + statusCode}
	}
	resp.Reason = reason
	if resp.Reason == "" {
		resp.Reason = http.StatusText(resp.StatusCode)
	}
	return nil
}

func (t HTTP1) readTransfer(r *bufio.Reader, req *model.PreparedRequest, resp *Response) error {
	contentLens := resp.Header["Content-Length"]

	// Hardening against HTTP request smuggling, taken from standard library
	if len(contentLens) > 1 {
		// Per RFC 7230 Section 3.3.2
		first := textproto.TrimString(contentLens[0])
		for _, ct := range contentLens[1:] {
			if first != textproto.TrimString(ct) {
				return &ProtocolError{fmt.Sprintf("message cannot contain multiple Content-Length headers; got %q", contentLens)}
			}
		}

		// deduplicate Content-Length
		resp.Header.Del("Content-Length")
		resp.Header.Add("Content-Length", first)

		contentLens = resp.Header["Content-Length"]
	}

	if noBody(req, resp.StatusCode) {
		resp.ContentLength = 0
		resp.Body = http.NoBody
		return nil
	}

	if strings.EqualFold(resp.Header.Get("Transfer-Encoding"), "chunked") {
		resp.ContentLength = -1
		resp.Body = chunked.NewReader(r)
		return nil
	}

	cl := int64(-1)
	if len(contentLens) > 0 {
		// Logic based on Content-Length
		n, err := strconv.ParseUint(textproto.TrimString(contentLens[0]), 10, 63)
		if err != nil {
			return &ProtocolError{"bad Content-Length " + strconv.Quote(contentLens[0])}
		}
		cl = int64(n)
	}

	resp.ContentLength = cl
	switch {
	case cl > 0:
		resp.Body = io.LimitReader(r, cl)
	case cl == 0:
		resp.Body = http.NoBody
	default:
		// delimited by the server closing the connection
		resp.Body = r
		resp.Close = true
	}
	return nil
}

func noBody(req *model.PreparedRequest, status int) bool {
	if req != nil && req.Method == http.MethodHead {
		return true
	}
	if req != nil && req.Method == http.MethodConnect && status/100 == 2 {
		return true
	}
	return (status >= 100 && status < 200) || status == http.StatusNoContent || status == http.StatusNotModified
}

func shouldClose(proto string, h http.Header) bool {
	conn := strings.ToLower(h.Get("Connection"))
	if strings.Contains(conn, "close") {
		return true
	}
	if proto == "HTTP/1.0" {
		return !strings.Contains(conn, "keep-alive")
	}
	return false
}
