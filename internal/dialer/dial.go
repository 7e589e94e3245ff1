package dialer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"github.com/frankli0324/go-networking/internal/proxy"
)

func (d *CoreDialer) DialContext(ctx context.Context, target, proxyURL *url.URL) (net.Conn, error) {
	hp := proxy.HostPort(target)
	var (
		conn net.Conn
		err  error
	)
	switch {
	case proxyURL == nil:
		conn, err = d.DialTCP(ctx, "tcp", hp)
	case Forwarding(target, proxyURL):
		return d.DialProxy(ctx, proxyURL)
	default:
		conn, err = d.DialTunnel(ctx, proxyURL, hp)
	}
	if err != nil {
		return nil, err
	}
	if target.Scheme == "https" {
		return d.handshake(ctx, conn, d.TLSConfig, target.Hostname())
	}
	return conn, nil
}

// DialTCP dials addr honouring the resolve config and the source address.
func (d *CoreDialer) DialTCP(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dialTCP(ctx, d.ResolveConfig, network, addr)
}

func (d *CoreDialer) dialTCP(ctx context.Context, cfg *ResolveConfig, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	dst := addr
	if cfg != nil {
		switch cfg.Network {
		case "ip4":
			network = "tcp4"
		case "ip6":
			network = "tcp6"
		}
		if static, ok := cfg.StaticHosts[host]; ok {
			dst = net.JoinHostPort(static, port)
		}
		if dns := cfg.CustomDNSServer; dns != "" {
			ctx = serverContext{ctx, dns}
			dialer.Resolver = serverResolver
		}
	}
	if d.SourceAddress != "" {
		ip := net.ParseIP(d.SourceAddress)
		if ip == nil {
			return nil, fmt.Errorf("invalid source address %q", d.SourceAddress)
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
		// the destination must be of the same family as the source
		if ip.To4() != nil {
			network = "tcp4"
		} else {
			network = "tcp6"
		}
	}
	if d.Dial != nil {
		return d.Dial(ctx, network, dst)
	}
	return dialer.DialContext(ctx, network, dst)
}

func (d *CoreDialer) handshake(ctx context.Context, conn net.Conn, cfg *tls.Config, serverName string) (net.Conn, error) {
	config := cfg.Clone()
	if config == nil {
		config = &tls.Config{}
	}
	config.ServerName = serverName
	c := tls.Client(conn, config)
	if err := c.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}
