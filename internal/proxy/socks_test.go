package proxy_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
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

func v4Only(ctx context.Context, host string) ([]net.IP, error) {
	if host == "localhost" {
		return []net.IP{net.IPv4(127, 0, 0, 1)}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestSOCKSVariants(t *testing.T) {
	echo := echoServer(t)
	_, port, _ := net.SplitHostPort(echo)
	target := net.JoinHostPort("localhost", port)
	resolved := net.JoinHostPort("127.0.0.1", port)

	for scheme, wantTarget := range map[string]string{
		"socks4":  resolved,
		"socks4a": target,
		"socks5":  resolved,
		"socks5h": target,
	} {
		t.Run(scheme, func(t *testing.T) {
			srv := testutil.StartSOCKS(t)
			s := &proxy.SOCKS{
				Proxy:   &url.URL{Scheme: scheme, Host: srv.Addr},
				Resolve: v4Only,
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c, err := s.DialContext(ctx, "tcp", target)
			require.NoError(t, err)
			defer c.Close()

			_, err = c.Write([]byte("ping"))
			require.NoError(t, err)
			buf := make([]byte, 4)
			_, err = io.ReadFull(c, buf)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(buf))

			seen := srv.Seen()
			require.Len(t, seen, 1)
			assert.Equal(t, wantTarget, seen[0].Target)
		})
	}
}

func TestSOCKS5Auth(t *testing.T) {
	echo := echoServer(t)
	srv := testutil.StartSOCKS(t)
	srv.User, srv.Password = "user", "secret"

	s := &proxy.SOCKS{Proxy: &url.URL{Scheme: "socks5h", Host: srv.Addr, User: url.UserPassword("user", "secret")}}
	c, err := s.DialContext(context.Background(), "tcp", echo)
	require.NoError(t, err)
	c.Close()
	assert.Equal(t, "user:secret", srv.Seen()[0].Auth)

	s.Proxy.User = url.UserPassword("user", "wrong")
	_, err = s.DialContext(context.Background(), "tcp", echo)
	var pe *proxy.Error
	assert.ErrorAs(t, err, &pe)
}

func TestSOCKSRejected(t *testing.T) {
	echo := echoServer(t)
	for _, scheme := range []string{"socks4", "socks5"} {
		t.Run(scheme, func(t *testing.T) {
			srv := testutil.StartSOCKS(t)
			srv.Reject = true
			s := &proxy.SOCKS{Proxy: &url.URL{Scheme: scheme, Host: srv.Addr}}
			_, err := s.DialContext(context.Background(), "tcp", echo)
			var pe *proxy.Error
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Error(), srv.Addr)
		})
	}
}

func TestSOCKSProxyDownIsNotProxyError(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	for _, scheme := range []string{"socks4a", "socks5h"} {
		s := &proxy.SOCKS{Proxy: &url.URL{Scheme: scheme, Host: addr}}
		_, err := s.DialContext(context.Background(), "tcp", "example.com:80")
		require.Error(t, err)
		var pe *proxy.Error
		assert.False(t, errors.As(err, &pe), scheme)
	}
}

func TestSOCKS4CannotAddressIPv6(t *testing.T) {
	s := &proxy.SOCKS{Proxy: &url.URL{Scheme: "socks4", Host: "127.0.0.1:1"}}
	_, err := s.DialContext(context.Background(), "tcp", "[::1]:80")
	var pe *proxy.Error
	assert.ErrorAs(t, err, &pe)
}

func TestSOCKSHonoursContext(t *testing.T) {
	// accepts but never answers
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s := &proxy.SOCKS{Proxy: &url.URL{Scheme: "socks4a", Host: ln.Addr().String()}}
	_, err = s.DialContext(ctx, "tcp", "example.com:80")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
