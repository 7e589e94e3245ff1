package dialer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankli0324/go-networking/internal/proxy"
	"github.com/frankli0324/go-networking/internal/testutil"
)

func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
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
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

func roundTrip(t *testing.T, c net.Conn) {
	t.Helper()
	defer c.Close()
	_, err := c.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestForwarding(t *testing.T) {
	httpProxy := mustURL(t, "http://p:3128")
	socks := mustURL(t, "socks5://p:1080")
	assert.True(t, Forwarding(mustURL(t, "http://x/"), httpProxy))
	assert.False(t, Forwarding(mustURL(t, "https://x/"), httpProxy))
	assert.False(t, Forwarding(mustURL(t, "http://x/"), socks))
	assert.False(t, Forwarding(mustURL(t, "http://x/"), nil))
}

func TestDialStaticHosts(t *testing.T) {
	addr := echoServer(t)
	_, port, _ := net.SplitHostPort(addr)

	d := &CoreDialer{ResolveConfig: &ResolveConfig{StaticHosts: map[string]string{"origin.test": "127.0.0.1"}}}
	c, err := d.DialContext(context.Background(), mustURL(t, "http://origin.test:"+port), nil)
	require.NoError(t, err)
	roundTrip(t, c)
}

func TestDialOverride(t *testing.T) {
	var dialed []string
	d := &CoreDialer{
		SourceAddress: "127.0.0.1",
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialed = append(dialed, network+" "+addr)
			return nil, errors.New("no network in tests")
		},
	}
	_, err := d.DialContext(context.Background(), mustURL(t, "http://10.1.2.3/"), nil)
	require.Error(t, err)
	_, err = d.DialContext(context.Background(), mustURL(t, "http://10.1.2.3/"), mustURL(t, "socks5h://10.9.9.9"))
	require.Error(t, err)
	assert.Equal(t, []string{"tcp4 10.1.2.3:80", "tcp4 10.9.9.9:1080"}, dialed)
}

func TestInvalidSourceAddress(t *testing.T) {
	d := &CoreDialer{SourceAddress: "eth0"}
	_, err := d.DialTCP(context.Background(), "tcp", "127.0.0.1:1")
	assert.ErrorContains(t, err, "invalid source address")
}

func TestConnectTunnel(t *testing.T) {
	addr := echoServer(t)
	_, port, _ := net.SplitHostPort(addr)
	p := testutil.StartHTTPProxy(t)

	d := &CoreDialer{
		ResolveConfig: &ResolveConfig{StaticHosts: map[string]string{"origin.test": "127.0.0.1"}},
		ProxyConfig:   &ProxyConfig{ResolveLocally: true},
	}
	c, err := d.DialTunnel(context.Background(), mustURL(t, "http://u:p@"+p.Addr), net.JoinHostPort("origin.test", port))
	require.NoError(t, err)
	roundTrip(t, c)

	seen := p.Seen()
	require.Len(t, seen, 1)
	assert.Equal(t, addr, seen[0].Target)
	assert.Equal(t, "Basic dTpw", seen[0].Auth)
}

func TestConnectRefused(t *testing.T) {
	p := testutil.StartHTTPProxy(t)
	p.Refuse = http.StatusForbidden

	d := &CoreDialer{}
	_, err := d.DialTunnel(context.Background(), mustURL(t, "http://"+p.Addr), "example.com:443")
	var pe *proxy.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusForbidden, pe.Status)
	assert.Contains(t, pe.Msg, "Forbidden")
}

func TestConnectMalformedReply(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte("SSH-2.0-OpenSSH_9.0\r\n\r\n"))
		io.Copy(io.Discard, c)
	}()

	d := &CoreDialer{}
	_, err = d.DialTunnel(context.Background(), mustURL(t, "http://"+ln.Addr().String()), "example.com:443")
	var pe *proxy.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "malformed CONNECT response", pe.Msg)
}

func TestConnectHonoursContext(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	var accepted atomic.Int32
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			defer c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	d := &CoreDialer{}
	_, err = d.DialTunnel(ctx, mustURL(t, "http://"+ln.Addr().String()), "example.com:443")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, accepted.Load())
}

func TestUnsupportedProxyScheme(t *testing.T) {
	d := &CoreDialer{}
	_, err := d.DialTunnel(context.Background(), mustURL(t, "ftp://p:21"), "example.com:443")
	var pe *proxy.Error
	assert.ErrorAs(t, err, &pe)
}

func TestTLSHandshake(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()
	u := mustURL(t, srv.URL)

	_, err := (&CoreDialer{}).DialContext(context.Background(), u, nil)
	var cve *tls.CertificateVerificationError
	assert.ErrorAs(t, err, &cve)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	d := &CoreDialer{TLSConfig: &tls.Config{RootCAs: pool}}
	c, err := d.DialContext(context.Background(), u, nil)
	require.NoError(t, err)
	defer c.Close()
	tc, ok := c.(*tls.Conn)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", tc.ConnectionState().ServerName)
	assert.Nil(t, d.TLSConfig.Certificates, "the shared config is not modified")
	assert.Empty(t, d.TLSConfig.ServerName)
}

func TestResolveConfigMerge(t *testing.T) {
	base := &ResolveConfig{CustomDNSServer: "1.1.1.1:53", StaticHosts: map[string]string{"a": "1.1.1.1", "b": "2.2.2.2"}}
	over := &ResolveConfig{Network: "ip4", StaticHosts: map[string]string{"a": "9.9.9.9"}}

	m := over.Merge(base)
	assert.Equal(t, "1.1.1.1:53", m.CustomDNSServer)
	assert.Equal(t, "ip4", m.Network)
	assert.Equal(t, "9.9.9.9", m.StaticHosts["a"])
	assert.Equal(t, "2.2.2.2", m.StaticHosts["b"])

	var nilCfg *ResolveConfig
	assert.Equal(t, base.CustomDNSServer, nilCfg.Merge(base).CustomDNSServer)
	assert.Equal(t, "ip4", over.Merge(nil).Network)
}

func TestResolveStaticHost(t *testing.T) {
	d := &CoreDialer{}
	ips, err := d.resolve(context.Background(), &ResolveConfig{StaticHosts: map[string]string{"x.test": "10.0.0.7"}}, "x.test")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.0.0.7", ips[0].String())
}
