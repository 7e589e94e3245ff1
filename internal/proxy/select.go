// Package proxy resolves which proxy a request goes through and builds
// SOCKS tunnels. HTTP CONNECT tunnels live in the dialer, which owns the
// HTTP/1.1 codec.
package proxy

import (
	"net"
	"net/url"
	"strings"

	"github.com/frankli0324/go-networking/internal/model"
)

// NoProxy as a proxy value forces a direct connection for that scheme.
const NoProxy = "__noproxy__"

// Select returns the proxy for u: hosts listed under "no" are never proxied,
// then the entry for u's scheme, then "all". An empty result means direct.
func Select(proxies model.Proxies, u *url.URL) string {
	if len(proxies) == 0 {
		return ""
	}
	if Bypass(proxies[model.ProxyKeyNo], u.Host) {
		return ""
	}
	p, ok := proxies[strings.ToLower(u.Scheme)]
	if !ok {
		p = proxies[model.ProxyKeyAll]
	}
	if p == NoProxy {
		return ""
	}
	return p
}

// Bypass reports whether hostport matches the comma separated no-proxy list.
// Entries match the host exactly or as a domain suffix, "*" matches
// everything and an entry carrying a port only matches that port.
func Bypass(noProxy, hostport string) bool {
	if noProxy == "" {
		return false
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, ""
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		ehost, eport, err := net.SplitHostPort(entry)
		if err != nil {
			ehost, eport = entry, ""
		}
		if eport != "" && eport != port {
			continue
		}
		ehost = strings.TrimPrefix(strings.Trim(ehost, "[]"), ".")
		if host == ehost || strings.HasSuffix(host, "."+ehost) {
			return true
		}
	}
	return false
}

// Normalize parses a proxy URL. A missing scheme means http and "socks"
// is an alias of "socks4".
func Normalize(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "socks" {
		u.Scheme = "socks4"
	}
	if u.Host == "" {
		return nil, url.InvalidHostError("empty proxy host")
	}
	return u, nil
}

// Scheme returns the normalised scheme of a proxy URL, or "" when it cannot
// be parsed.
func Scheme(raw string) string {
	u, err := Normalize(raw)
	if err != nil {
		return ""
	}
	return u.Scheme
}

var defaultPorts = map[string]string{
	"http": "80", "https": "443",
	"socks4": "1080", "socks4a": "1080", "socks5": "1080", "socks5h": "1080",
}

// HostPort returns u's host with the scheme's default port filled in.
func HostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPorts[u.Scheme])
}

// IsSOCKS reports whether scheme is one of the SOCKS variants.
func IsSOCKS(scheme string) bool {
	return strings.HasPrefix(scheme, "socks")
}
