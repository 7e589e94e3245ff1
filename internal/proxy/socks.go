package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"syscall"

	xproxy "golang.org/x/net/proxy"

	"github.com/frankli0324/go-networking/utils/nettools"
)

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ResolveFunc resolves the origin host for the SOCKS variants that leave
// name resolution to the client (socks4 and socks5).
type ResolveFunc func(ctx context.Context, host string) ([]net.IP, error)

// SOCKS dials through a SOCKS4, 4a, 5 or 5h proxy. The returned connection
// behaves like a direct TCP connection to the origin.
type SOCKS struct {
	Proxy   *url.URL
	Forward DialFunc // dials the proxy endpoint itself
	Resolve ResolveFunc
}

func (s *SOCKS) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch s.Proxy.Scheme {
	case "socks4", "socks4a":
		return s.dialSOCKS4(ctx, network, address)
	case "socks5", "socks5h":
		return s.dialSOCKS5(ctx, network, address)
	}
	return nil, &Error{Proxy: s.Proxy.Redacted(), Msg: "unsupported proxy scheme " + s.Proxy.Scheme}
}

func (s *SOCKS) forward() DialFunc {
	if s.Forward != nil {
		return s.Forward
	}
	var d net.Dialer
	return d.DialContext
}

func (s *SOCKS) resolve(ctx context.Context, host string, v4 bool) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 && ip.To4() == nil {
			return nil, &Error{Proxy: s.Proxy.Redacted(), Msg: "SOCKS4 cannot address " + host}
		}
		return ip, nil
	}
	resolve := s.Resolve
	if resolve == nil {
		resolve = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	ips, err := resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if !v4 || ip.To4() != nil {
			return ip, nil
		}
	}
	return nil, &net.DNSError{Err: "no suitable address", Name: host, IsNotFound: true}
}

const (
	socks4Version = 0x04
	socks4Connect = 0x01
	socks4Granted = 90
)

var socks4Replies = map[byte]string{
	91: "request rejected or failed",
	92: "request rejected because SOCKS server cannot connect to identd on the client",
	93: "request rejected because the client program and identd report different user-ids",
}

func (s *SOCKS) dialSOCKS4(ctx context.Context, network, address string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	remote := s.Proxy.Scheme == "socks4a" && net.ParseIP(host) == nil
	ip := net.IPv4(0, 0, 0, 1)
	if !remote {
		resolved, err := s.resolve(ctx, host, true)
		if err != nil {
			return nil, err
		}
		ip = resolved
	}

	conn, err := s.forward()(ctx, "tcp", HostPort(s.Proxy))
	if err != nil {
		return nil, err
	}
	stop := nettools.WatchContext(ctx, conn)
	defer stop()

	req := make([]byte, 0, 9+len(host))
	req = append(req, socks4Version, socks4Connect)
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ip.To4()...)
	req = append(req, s.Proxy.User.Username()...)
	req = append(req, 0)
	if remote {
		req = append(req, host...)
		req = append(req, 0)
	}
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, nettools.ContextError(ctx, err)
	}

	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		conn.Close()
		return nil, nettools.ContextError(ctx, err)
	}
	if reply[0] != 0 {
		conn.Close()
		return nil, &Error{Proxy: s.Proxy.Redacted(), Msg: fmt.Sprintf("invalid SOCKS4 reply version %#x", reply[0])}
	}
	if reply[1] != socks4Granted {
		conn.Close()
		msg, ok := socks4Replies[reply[1]]
		if !ok {
			msg = "unknown SOCKS4 reply"
		}
		return nil, &Error{Proxy: s.Proxy.Redacted(), Status: int(reply[1]), Msg: msg}
	}
	return conn, nil
}

type forwardError struct{ err error }

func (e *forwardError) Error() string { return e.err.Error() }
func (e *forwardError) Unwrap() error { return e.err }

type forwardDialer DialFunc

func (f forwardDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}

func (f forwardDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := f(ctx, network, address)
	if err != nil {
		return nil, &forwardError{err}
	}
	return c, nil
}

func (s *SOCKS) dialSOCKS5(ctx context.Context, network, address string) (net.Conn, error) {
	if s.Proxy.Scheme == "socks5" {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		ip, err := s.resolve(ctx, host, false)
		if err != nil {
			return nil, err
		}
		address = net.JoinHostPort(ip.String(), port)
	}

	var auth *xproxy.Auth
	if u := s.Proxy.User; u != nil {
		pass, _ := u.Password()
		auth = &xproxy.Auth{User: u.Username(), Password: pass}
	}
	d, err := xproxy.SOCKS5("tcp", HostPort(s.Proxy), auth, forwardDialer(s.forward()))
	if err != nil {
		return nil, &Error{Proxy: s.Proxy.Redacted(), Msg: "invalid SOCKS5 proxy", Err: err}
	}
	conn, err := d.(xproxy.ContextDialer).DialContext(ctx, network, address)
	if err != nil {
		return nil, s.classifySOCKS5(err)
	}
	return conn, nil
}

// classifySOCKS5 separates socket failures, which are returned unchanged,
// from refusals by the proxy.
func (s *SOCKS) classifySOCKS5(err error) error {
	var fe *forwardError
	if errors.As(err, &fe) {
		return fe.err
	}
	inner := err
	var op *net.OpError
	if errors.As(err, &op) && op.Err != nil {
		inner = op.Err
	}
	if isSocketError(inner) {
		return err
	}
	return &Error{Proxy: s.Proxy.Redacted(), Msg: "SOCKS5 handshake failed", Err: inner}
}

func isSocketError(err error) bool {
	var ne net.Error
	var errno syscall.Errno
	return errors.As(err, &ne) || errors.As(err, &errno) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed)
}
