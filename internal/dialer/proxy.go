package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/url"

	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/proxy"
	"github.com/frankli0324/go-networking/internal/transport"
	"github.com/frankli0324/go-networking/utils/nettools"
)

type ProxyConfig struct {
	TLSConfig      *tls.Config    // the [*tls.Config] to use with proxy, if nil, *[CoreDialer.TLSConfig] will be used
	ResolveLocally bool           // resolve the origin before sending CONNECT
	ResolveConfig  *ResolveConfig // overrides the resolver config for dialer for proxy
}

var h1Transport transport.Transport = transport.HTTP1{}

func (d *CoreDialer) proxyResolveConfig() *ResolveConfig {
	if d.ProxyConfig == nil || d.ProxyConfig.ResolveConfig == nil {
		return d.ResolveConfig
	}
	return d.ProxyConfig.ResolveConfig.Merge(d.ResolveConfig)
}

// DialProxy opens a connection to the proxy endpoint itself, speaking TLS
// to it for https proxies.
func (d *CoreDialer) DialProxy(ctx context.Context, proxyURL *url.URL) (net.Conn, error) {
	conn, err := d.dialTCP(ctx, d.proxyResolveConfig(), "tcp", proxy.HostPort(proxyURL))
	if err != nil {
		return nil, err
	}
	if proxyURL.Scheme == "https" {
		var tlsCfg *tls.Config
		if d.ProxyConfig != nil {
			tlsCfg = d.ProxyConfig.TLSConfig
		}
		if tlsCfg == nil {
			tlsCfg = d.TLSConfig
		}
		return d.handshake(ctx, conn, tlsCfg, proxyURL.Hostname())
	}
	return conn, nil
}

// DialTunnel creates a connection to addr over an http or socks proxy.
// The returned connection carries raw bytes to the origin.
func (d *CoreDialer) DialTunnel(ctx context.Context, proxyURL *url.URL, addr string) (net.Conn, error) {
	if proxy.IsSOCKS(proxyURL.Scheme) {
		cfg := d.proxyResolveConfig()
		s := &proxy.SOCKS{
			Proxy: proxyURL,
			Forward: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return d.dialTCP(ctx, cfg, network, addr)
			},
			Resolve: func(ctx context.Context, host string) ([]net.IP, error) {
				return d.resolve(ctx, d.ResolveConfig, host)
			},
		}
		return s.DialContext(ctx, "tcp", addr)
	}
	if proxyURL.Scheme != "http" && proxyURL.Scheme != "https" {
		return nil, &proxy.Error{Proxy: proxyURL.Redacted(), Msg: "unsupported proxy scheme " + proxyURL.Scheme}
	}
	return d.connect(ctx, proxyURL, addr)
}

func (d *CoreDialer) connect(ctx context.Context, proxyURL *url.URL, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if d.ProxyConfig != nil && d.ProxyConfig.ResolveLocally && net.ParseIP(host) == nil {
		ips, err := d.resolve(ctx, d.ResolveConfig, host)
		if err != nil {
			return nil, err
		}
		addr = net.JoinHostPort(ips[rand.Intn(len(ips))].String(), port)
	}

	conn, err := d.DialProxy(ctx, proxyURL)
	if err != nil {
		return nil, err
	}
	stop := nettools.WatchContext(ctx, conn)
	defer stop()

	connReq := &model.Request{Method: http.MethodConnect, URL: "http://" + addr}
	if u := proxyURL.User; u != nil {
		pass, _ := u.Password()
		connReq.Header = http.Header{
			"Proxy-Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(u.Username()+":"+pass))},
		}
	}
	pr, err := connReq.Prepare()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := h1Transport.Write(conn, pr); err != nil {
		conn.Close()
		return nil, nettools.ContextError(ctx, err)
	}
	br := bufio.NewReader(conn)
	resp := &transport.Response{}
	if err := h1Transport.Read(br, pr, resp); err != nil {
		conn.Close()
		var pe *transport.ProtocolError
		if errors.As(err, &pe) {
			return nil, &proxy.Error{Proxy: proxyURL.Redacted(), Msg: "malformed CONNECT response", Err: err}
		}
		return nil, nettools.ContextError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, &proxy.Error{Proxy: proxyURL.Redacted(), Status: resp.StatusCode, Msg: "CONNECT refused: " + resp.Reason}
	}
	if br.Buffered() > 0 {
		return &bufferedConn{conn, br}, nil
	}
	return conn, nil
}

// bufferedConn hands out bytes the proxy sent right after its CONNECT
// response before reading from the socket again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.r.Buffered() > 0 {
		return c.r.Read(p)
	}
	return c.Conn.Read(p)
}

func (c *bufferedConn) NetConn() net.Conn { return c.Conn }
