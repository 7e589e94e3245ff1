package dialer

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"

	"github.com/frankli0324/go-networking/internal/proxy"
)

// Dialers handle pretty much everything related to the actual connection,
// including tunnelling through a proxy, setting resolvers, etc.
type Dialer interface {
	// DialContext returns a connection ready to carry an HTTP/1.1 exchange
	// for target. When proxyURL is an HTTP proxy and target is plain http the
	// connection leads to the proxy itself, see [Forwarding].
	DialContext(ctx context.Context, target, proxyURL *url.URL) (net.Conn, error)
}

type CoreDialer struct {
	ResolveConfig *ResolveConfig

	TLSConfig *tls.Config // the config to use with origins

	// ProxyConfig tunes how proxies themselves are reached, nil uses the
	// origin settings.
	ProxyConfig *ProxyConfig

	// SourceAddress is the local IP outgoing connections are bound to.
	SourceAddress string

	// Dial replaces the TCP dial once the destination address is known.
	// Proxies are reached through it as well.
	Dial proxy.DialFunc
}

// Forwarding reports whether a request for target is sent as-is to the
// proxy in absolute-form instead of through a tunnel.
func Forwarding(target, proxyURL *url.URL) bool {
	return proxyURL != nil && !proxy.IsSOCKS(proxyURL.Scheme) && target.Scheme == "http"
}
