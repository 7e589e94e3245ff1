// Package dialer opens the connections requests are carried over.
package dialer

import (
	"github.com/frankli0324/go-networking/internal/dialer"
)

// Dialers are responsible for creating underlying streams that http requests could
// be written to and responses could be read from. for example, opening a raw TCP
// connection for HTTP/1.1 requests, tunnelled through an HTTP or SOCKS proxy
// when one is given.
//
// A Dialer MUST NOT hold active connection states: pooling belongs to the
// handler using it. It SHOULD hold the connection related configs like
// [ProxyConfig] or *[crypto/tls.Config].
type Dialer = dialer.Dialer

// CoreDialer is the default implementation of the [Dialer] interface, used by
// both built-in handlers.
type CoreDialer = dialer.CoreDialer

type ProxyConfig = dialer.ProxyConfig

// we need a dedicated resolver for two scenarios:
//
//  1. Resolve remote address locally in proxied requests (socks4, socks5
//     and CONNECT with ResolveLocally)
//  2. to customize the DNS server used for resolving hostname
//
// the standard library didn't provide a intuitive way of
// setting DNS server addresses since it only follows the
// system configuration (e.g. /etc/resolv.conf), leaving us only
// one option of using [net.Resolver.Dial] hook with a Go Resolver.
type ResolveConfig = dialer.ResolveConfig

// Forwarding reports whether a request for target is written to the proxy
// in absolute-form rather than through a tunnel.
var Forwarding = dialer.Forwarding
