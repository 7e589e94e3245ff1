// Package handlertest holds the behaviour every backend must show, run
// against local servers and proxies.
package handlertest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankli0324/go-networking/internal/dialer"
	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/testutil"
)

// Factory builds the backend under test.
type Factory func(opts handler.Options) handler.Handler

// Run runs the suite against the handlers built by newHandler.
func Run(t *testing.T, newHandler Factory) {
	s := &suite{newHandler: newHandler}
	t.Run("Get", s.testGet)
	t.Run("PostBody", s.testPostBody)
	t.Run("ContentDecoding", s.testContentDecoding)
	t.Run("RedirectLoop", s.testRedirectLoop)
	t.Run("RedirectKeepsCookies", s.testRedirectKeepsCookies)
	t.Run("TruncatedBody", s.testTruncatedBody)
	t.Run("UnknownCA", s.testUnknownCA)
	t.Run("TrustedCA", s.testTrustedCA)
	t.Run("SOCKS5HToHTTPS", s.testSOCKS5HToHTTPS)
	t.Run("SOCKS4ToHTTP", s.testSOCKS4ToHTTP)
	t.Run("ConnectTunnel", s.testConnectTunnel)
	t.Run("ConnectRefused", s.testConnectRefused)
	t.Run("ForwardingProxy", s.testForwardingProxy)
	t.Run("NoProxyBypass", s.testNoProxyBypass)
	t.Run("HTTPSProxy", s.testHTTPSProxy)
	t.Run("HTTPSProxyUntrusted", s.testHTTPSProxyUntrusted)
	t.Run("ProxyResolution", s.testProxyResolution)
	t.Run("CookieIsolation", s.testCookieIsolation)
	t.Run("KeepAlive", s.testKeepAlive)
	t.Run("InactivityTimeout", s.testInactivityTimeout)
	t.Run("PausedReader", s.testPausedReader)
	t.Run("MalformedStatusLine", s.testMalformedStatusLine)
	t.Run("MalformedChunk", s.testMalformedChunk)
	t.Run("ConnectionRefused", s.testConnectionRefused)
}

type suite struct {
	newHandler Factory
}

func (s *suite) handler(t *testing.T, opts handler.Options) handler.Handler {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	h := s.newHandler(opts)
	t.Cleanup(func() { h.Close() })
	return h
}

func send(t *testing.T, h handler.Handler, r *model.Request) (*model.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return h.Send(ctx, r)
}

func readAll(t *testing.T, resp *model.Response) string {
	t.Helper()
	defer resp.Close()
	b, err := resp.ReadN(-1)
	require.NoError(t, err)
	return string(b)
}

func echo(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("X-Method", r.Method)
	fmt.Fprintf(w, "%s %s ua=%s cookie=%s body=%s", r.Method, r.URL.RequestURI(), r.UserAgent(), r.Header.Get("Cookie"), body)
}

func (s *suite) testGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echo))
	defer srv.Close()
	h := s.handler(t, handler.Options{Headers: http.Header{"User-Agent": {"suite/1"}}})

	resp, err := send(t, h, &model.Request{URL: srv.URL + "/path?q=1"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "GET", resp.Header.Get("X-Method"))
	assert.Equal(t, srv.URL+"/path?q=1", resp.URL)
	assert.Equal(t, "GET /path?q=1 ua=suite/1 cookie= body=", readAll(t, resp))
}

func (s *suite) testPostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echo))
	defer srv.Close()
	h := s.handler(t, handler.Options{})

	for name, body := range map[string]interface{}{
		"sized": "payload",
		"lazy":  io.MultiReader(strings.NewReader("pay"), strings.NewReader("load")),
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := send(t, h, &model.Request{Method: "POST", URL: srv.URL + "/", Body: body})
			require.NoError(t, err)
			assert.Contains(t, readAll(t, resp), "body=payload")
		})
	}
}

func (s *suite) testContentDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte("compressed body"))
		zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("X-Accept-Encoding", r.Header.Get("Accept-Encoding"))
		w.Write(buf.Bytes())
	}))
	defer srv.Close()
	h := s.handler(t, handler.Options{})

	resp, err := send(t, h, &model.Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "gzip, deflate, br", resp.Header.Get("X-Accept-Encoding"))
	assert.Equal(t, "compressed body", readAll(t, resp))
}

func (s *suite) testRedirectLoop(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop", http.StatusMovedPermanently)
	}))
	defer srv.Close()
	h := s.handler(t, handler.Options{MaxRedirects: 5})

	_, err := send(t, h, &model.Request{URL: srv.URL + "/loop"})
	var he *errs.HTTPError
	require.ErrorAs(t, err, &he)
	assert.True(t, he.RedirectLoop)
	assert.Equal(t, 301, he.Response.Status)
	assert.EqualValues(t, 6, hits.Load())
	he.Response.Close()
}

func (s *suite) testRedirectKeepsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
		http.Redirect(w, r, "/home", http.StatusSeeOther)
	})
	mux.HandleFunc("/home", echo)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	h := s.handler(t, handler.Options{Headers: http.Header{"User-Agent": {"suite/1"}}})

	resp, err := send(t, h, &model.Request{Method: "POST", URL: srv.URL + "/login", Body: "u=1"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/home", resp.URL)
	assert.Equal(t, "GET /home ua=suite/1 cookie=session=s1 body=", readAll(t, resp))
}

func (s *suite) testTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, brw, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer c.Close()
		brw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort")
		brw.Flush()
	}))
	defer srv.Close()
	h := s.handler(t, handler.Options{})

	resp, err := send(t, h, &model.Request{URL: srv.URL})
	require.NoError(t, err)
	defer resp.Close()
	b, err := resp.ReadN(-1)
	assert.Equal(t, "short", string(b))
	var ir *errs.IncompleteRead
	require.ErrorAs(t, err, &ir)
	assert.EqualValues(t, 5, ir.Partial)
	assert.EqualValues(t, 100, ir.Expected)
}

func (s *suite) testUnknownCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer srv.Close()
	h := s.handler(t, handler.Options{})

	_, err := send(t, h, &model.Request{URL: srv.URL})
	var ce *errs.CertificateVerifyError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, errs.KindSSL)
}

func trusting(srv *httptest.Server) *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return pool
}

func (s *suite) testTrustedCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer srv.Close()

	h := s.handler(t, handler.Options{RootCAs: trusting(srv)})
	resp, err := send(t, h, &model.Request{URL: srv.URL + "/tls"})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /tls")

	h = s.handler(t, handler.Options{InsecureSkipVerify: true})
	resp, err = send(t, h, &model.Request{URL: srv.URL + "/insecure"})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /insecure")
}

func (s *suite) testSOCKS5HToHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer srv.Close()
	socks := testutil.StartSOCKS(t)
	h := s.handler(t, handler.Options{RootCAs: trusting(srv)})

	resp, err := send(t, h, &model.Request{
		URL:     srv.URL + "/via-socks",
		Proxies: model.Proxies{"all": "socks5h://" + socks.Addr},
	})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /via-socks")

	seen := socks.Seen()
	require.NotEmpty(t, seen)
	assert.Equal(t, srv.Listener.Addr().String(), seen[0].Target)
}

func (s *suite) testSOCKS4ToHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echo))
	defer srv.Close()
	socks := testutil.StartSOCKS(t)
	h := s.handler(t, handler.Options{})

	resp, err := send(t, h, &model.Request{
		URL:        srv.URL + "/via-socks4",
		Extensions: model.Extensions{"proxies": model.Proxies{"http": "socks4://" + socks.Addr}},
	})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /via-socks4")
	assert.Len(t, socks.Seen(), 1)
}

func (s *suite) testConnectTunnel(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer srv.Close()
	p := testutil.StartHTTPProxy(t)
	h := s.handler(t, handler.Options{RootCAs: trusting(srv)})

	resp, err := send(t, h, &model.Request{
		URL:     srv.URL + "/tunnelled",
		Proxies: model.Proxies{"https": "http://user:pass@" + p.Addr},
	})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /tunnelled")

	seen := p.Seen()
	require.NotEmpty(t, seen)
	assert.Equal(t, http.MethodConnect, seen[0].Method)
	assert.Equal(t, srv.Listener.Addr().String(), seen[0].Target)
	assert.Equal(t, "Basic dXNlcjpwYXNz", seen[0].Auth)
}

func (s *suite) testConnectRefused(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer srv.Close()
	p := testutil.StartHTTPProxy(t)
	p.Refuse = http.StatusProxyAuthRequired
	h := s.handler(t, handler.Options{RootCAs: trusting(srv)})

	_, err := send(t, h, &model.Request{URL: srv.URL, Proxies: model.Proxies{"all": "http://" + p.Addr}})
	var pe *errs.ProxyError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "407")
}

func (s *suite) testForwardingProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echo))
	defer srv.Close()
	p := testutil.StartHTTPProxy(t)
	h := s.handler(t, handler.Options{Proxies: model.Proxies{"http": "http://user:pass@" + p.Addr}})

	resp, err := send(t, h, &model.Request{URL: srv.URL + "/forwarded"})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /forwarded")

	seen := p.Seen()
	require.Len(t, seen, 1)
	assert.Equal(t, http.MethodGet, seen[0].Method)
	assert.Equal(t, "Basic dXNlcjpwYXNz", seen[0].Auth)
}

func (s *suite) testNoProxyBypass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echo))
	defer srv.Close()
	p := testutil.StartHTTPProxy(t)
	h := s.handler(t, handler.Options{Proxies: model.Proxies{"all": "http://" + p.Addr, "no": "127.0.0.1"}})

	resp, err := send(t, h, &model.Request{URL: srv.URL + "/direct"})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /direct")
	assert.Empty(t, p.Seen())
}

func (s *suite) testHTTPSProxy(t *testing.T) {
	secure := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer secure.Close()
	plain := httptest.NewServer(http.HandlerFunc(echo))
	defer plain.Close()
	p, pool := testutil.StartHTTPSProxy(t)
	h := s.handler(t, handler.Options{
		RootCAs:        trusting(secure),
		ProxyTLSConfig: &tls.Config{RootCAs: pool},
		Proxies:        model.Proxies{"all": "https://user:pass@" + p.Addr},
	})

	resp, err := send(t, h, &model.Request{URL: secure.URL + "/tunnelled"})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /tunnelled")

	resp, err = send(t, h, &model.Request{URL: plain.URL + "/forwarded"})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /forwarded")

	seen := p.Seen()
	require.Len(t, seen, 2)
	assert.Equal(t, http.MethodConnect, seen[0].Method)
	assert.Equal(t, secure.Listener.Addr().String(), seen[0].Target)
	assert.Equal(t, http.MethodGet, seen[1].Method)
	for _, req := range seen {
		assert.Equal(t, "Basic dXNlcjpwYXNz", req.Auth)
	}
}

func (s *suite) testHTTPSProxyUntrusted(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer srv.Close()
	p, _ := testutil.StartHTTPSProxy(t)
	// the origin is trusted, the proxy is verified against its own roots
	h := s.handler(t, handler.Options{
		RootCAs:        trusting(srv),
		ProxyTLSConfig: &tls.Config{RootCAs: x509.NewCertPool()},
		Proxies:        model.Proxies{"all": "https://" + p.Addr},
	})

	_, err := send(t, h, &model.Request{URL: srv.URL})
	var ce *errs.CertificateVerifyError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, p.Seen())
}

func (s *suite) testProxyResolution(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(echo))
	defer srv.Close()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p := testutil.StartHTTPProxy(t)
	_, proxyPort, err := net.SplitHostPort(p.Addr)
	require.NoError(t, err)
	h := s.handler(t, handler.Options{
		RootCAs:             trusting(srv),
		ResolveConfig:       &dialer.ResolveConfig{StaticHosts: map[string]string{"example.com": "127.0.0.1"}},
		ProxyResolveConfig:  &dialer.ResolveConfig{StaticHosts: map[string]string{"proxy.test": "127.0.0.1"}},
		ProxyResolveLocally: true,
		Proxies:             model.Proxies{"all": "http://proxy.test:" + proxyPort},
	})

	resp, err := send(t, h, &model.Request{URL: "https://example.com:" + port + "/resolved"})
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "GET /resolved")

	seen := p.Seen()
	require.NotEmpty(t, seen)
	assert.Equal(t, http.MethodConnect, seen[0].Method)
	assert.Equal(t, "127.0.0.1:"+port, seen[0].Target, "the proxy must only see the resolved address")
}

func (s *suite) testCookieIsolation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "id", Value: r.URL.Query().Get("v")})
	})
	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("Cookie"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	h := s.handler(t, handler.Options{})

	jarA, jarB := handler.NewCookieJar(), handler.NewCookieJar()
	get := func(path string, jar http.CookieJar) string {
		r := &model.Request{URL: srv.URL + path}
		if jar != nil {
			r.Extensions = model.Extensions{"cookiejar": jar}
		}
		resp, err := send(t, h, r)
		require.NoError(t, err)
		return readAll(t, resp)
	}
	get("/set?v=a", jarA)
	get("/set?v=default", nil)

	assert.Equal(t, "id=a", get("/get", jarA))
	assert.Equal(t, "", get("/get", jarB))
	assert.Equal(t, "id=default", get("/get", nil))
}

func (s *suite) testKeepAlive(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(echo))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()
	h := s.handler(t, handler.Options{})

	for i := 0; i < 3; i++ {
		resp, err := send(t, h, &model.Request{URL: srv.URL})
		require.NoError(t, err)
		readAll(t, resp)
	}
	assert.EqualValues(t, 1, conns.Load())
}

func (s *suite) testInactivityTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	h := s.handler(t, handler.Options{})

	start := time.Now()
	_, err := send(t, h, &model.Request{URL: srv.URL, Extensions: model.Extensions{"timeout": 0.2}})
	assert.Less(t, time.Since(start), 3*time.Second)
	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "timed out")
}

func (s *suite) testConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	h := s.handler(t, handler.Options{})

	_, err = send(t, h, &model.Request{URL: "http://" + addr})
	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
}

func (s *suite) testPausedReader(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 256<<10) // 4 MiB
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()
	h := s.handler(t, handler.Options{Timeout: 200 * time.Millisecond})

	resp, err := send(t, h, &model.Request{URL: srv.URL})
	require.NoError(t, err)
	defer resp.Close()
	head, err := resp.ReadN(10)
	require.NoError(t, err)

	// the caller is busy elsewhere, nothing waits on the network
	time.Sleep(600 * time.Millisecond)

	rest, err := resp.ReadN(-1)
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(head)+len(rest))
}

// serveRaw answers every request with reply verbatim and hangs up.
func serveRaw(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				if _, err := http.ReadRequest(bufio.NewReader(c)); err != nil {
					return
				}
				io.WriteString(c, reply)
			}()
		}
	}()
	return "http://" + ln.Addr().String()
}

// exchangeErr returns the first error of sending r and reading its body.
func exchangeErr(t *testing.T, h handler.Handler, r *model.Request) error {
	t.Helper()
	resp, err := send(t, h, r)
	if err != nil {
		return err
	}
	defer resp.Close()
	_, err = resp.ReadN(-1)
	return err
}

func requireKind(t *testing.T, err error, want errs.Kind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok, "%T is outside the taxonomy", err)
	assert.Equal(t, want, kind, "%v", err)
}

func (s *suite) testMalformedStatusLine(t *testing.T) {
	url := serveRaw(t, "garbage garbage\r\n\r\n")
	h := s.handler(t, handler.Options{})
	requireKind(t, exchangeErr(t, h, &model.Request{URL: url}), errs.KindTransport)
}

func (s *suite) testMalformedChunk(t *testing.T) {
	url := serveRaw(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\nabc\r\n0\r\n\r\n")
	h := s.handler(t, handler.Options{})
	requireKind(t, exchangeErr(t, h, &model.Request{URL: url}), errs.KindTransport)
}
