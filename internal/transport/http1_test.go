package transport_test

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/transport"
)

type tCase struct {
	data    []byte
	req     *model.Request
	proxied bool
}

var reqShouldBe = map[string]tCase{
	"BasicRequest": {
		req: &model.Request{
			Method: "GET",
			URL:    "http://www.example.com",
		},
		data: []byte("GET / HTTP/1.1\r\nHost: www.example.com\r\n\r\n"),
	},
	"QueryNonStandard": {
		req: &model.Request{
			Method: "GET",
			URL:    "http://www.example.com/test?1=33=1",
		},
		data: []byte("GET /test?1=33=1 HTTP/1.1\r\nHost: www.example.com\r\n\r\n"),
	},
	"HeaderCanonicalized": {
		req: &model.Request{
			Method: "GET",
			URL:    "http://www.example.com/",
			Header: http.Header{"x-123-vv": {"1"}},
		},
		data: []byte("GET / HTTP/1.1\r\nHost: www.example.com\r\nX-123-Vv: 1\r\n\r\n"),
	},
	"URIFragmentNotIncluded": {
		req: &model.Request{
			Method: "GET",
			URL:    "http://www.example.com/?test=1#frag",
		},
		data: []byte("GET /?test=1 HTTP/1.1\r\nHost: www.example.com\r\n\r\n"),
	},
	"PercentEncodingCasePreserved": {
		req: &model.Request{
			Method: "GET",
			URL:    "http://www.example.com/a%2fb?q=%c3%a9",
		},
		data: []byte("GET /a%2fb?q=%c3%a9 HTTP/1.1\r\nHost: www.example.com\r\n\r\n"),
	},
	"BodyWithLength": {
		req: &model.Request{
			Method: "POST",
			URL:    "http://www.example.com/upload",
			Body:   "hello",
		},
		data: []byte("POST /upload HTTP/1.1\r\nHost: www.example.com\r\nContent-Length: 5\r\n\r\nhello"),
	},
	"LazyBodyChunked": {
		req: &model.Request{
			Method: "POST",
			URL:    "http://www.example.com/upload",
			Body:   io.MultiReader(strings.NewReader("hello")),
		},
		data: []byte("POST /upload HTTP/1.1\r\nHost: www.example.com\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"),
	},
	"AbsoluteFormForProxy": {
		req: &model.Request{
			Method: "GET",
			URL:    "http://www.example.com/path?x=1",
		},
		proxied: true,
		data:    []byte("GET http://www.example.com/path?x=1 HTTP/1.1\r\nHost: www.example.com\r\n\r\n"),
	},
	"Connect": {
		req: &model.Request{
			Method: "CONNECT",
			URL:    "http://www.example.com:443",
		},
		data: []byte("CONNECT www.example.com:443 HTTP/1.1\r\nHost: www.example.com:443\r\n\r\n"),
	},
}

func TestRequestSerialize(t *testing.T) {
	for name, cas := range reqShouldBe {
		tCase := cas
		t.Run(name, func(t *testing.T) {
			pr, err := tCase.req.Prepare()
			require.NoError(t, err)
			var buf bytes.Buffer
			require.NoError(t, transport.HTTP1{Proxied: tCase.proxied}.Write(&buf, pr))
			if err := iotest.TestReader(&buf, tCase.data); err != nil {
				t.Error(err)
			}
		})
	}
}

func readResponse(t *testing.T, method, raw string) (*transport.Response, *bufio.Reader) {
	t.Helper()
	pr, err := (&model.Request{Method: method, URL: "http://www.example.com/"}).Prepare()
	require.NoError(t, err)
	br := bufio.NewReader(strings.NewReader(raw))
	resp := &transport.Response{}
	require.NoError(t, transport.HTTP1{}.Read(br, pr, resp))
	return resp, br
}

func TestReadContentLength(t *testing.T) {
	resp, br := readResponse(t, "GET", "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhelloHTTP/1.1")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	assert.EqualValues(t, 5, resp.ContentLength)
	assert.False(t, resp.Close)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	rest, _ := io.ReadAll(br)
	assert.Equal(t, "HTTP/1.1", string(rest), "body reader must stop at Content-Length")
}

func TestReadChunkedConsumesTrailer(t *testing.T) {
	resp, br := readResponse(t, "GET", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n2\r\nde\r\n0\r\nX-Trailer: 1\r\n\r\nNEXT")
	assert.EqualValues(t, -1, resp.ContentLength)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(b))

	rest, _ := io.ReadAll(br)
	assert.Equal(t, "NEXT", string(rest))
}

func TestReadChunkedTruncated(t *testing.T) {
	resp, _ := readResponse(t, "GET", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\na\r\nabc")
	_, err := io.ReadAll(resp.Body)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadSkipsInterimResponses(t *testing.T) {
	resp, _ := readResponse(t, "GET", "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 204 No Content\r\n\r\n")
	assert.Equal(t, 204, resp.StatusCode)
	assert.Equal(t, http.NoBody, resp.Body)
}

func TestReadSwitchingProtocolsCloses(t *testing.T) {
	resp, _ := readResponse(t, "GET", "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n\x81\x00")
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.True(t, resp.Close, "the connection must not go back to the pool")
}

func TestReadHeadHasNoBody(t *testing.T) {
	resp, _ := readResponse(t, "HEAD", "HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\n")
	assert.EqualValues(t, 0, resp.ContentLength)
	assert.Equal(t, "1000", resp.Header.Get("Content-Length"))
}

func TestReadUntilClose(t *testing.T) {
	resp, _ := readResponse(t, "GET", "HTTP/1.0 200 OK\r\n\r\nall of it")
	assert.True(t, resp.Close)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "all of it", string(b))
}

func TestReadConnectionClose(t *testing.T) {
	resp, _ := readResponse(t, "GET", "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")
	assert.True(t, resp.Close)
}

func TestReadMalformed(t *testing.T) {
	pr, err := (&model.Request{URL: "http://www.example.com/"}).Prepare()
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"garbage":        "SSH-2.0-OpenSSH\r\n\r\n",
		"status":         "HTTP/1.1 2000 OK\r\n\r\n",
		"conflicting cl": "HTTP/1.1 200 OK\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			err := transport.HTTP1{}.Read(bufio.NewReader(strings.NewReader(raw)), pr, &transport.Response{})
			var pe *transport.ProtocolError
			assert.ErrorAs(t, err, &pe)
		})
	}

	err = transport.HTTP1{}.Read(bufio.NewReader(strings.NewReader("HTTP/1.1 200 OK\r\n")), pr, &transport.Response{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
