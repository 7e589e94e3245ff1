package dialer

import (
	"context"
	"maps"
	"net"
)

type ResolveConfig struct {
	CustomDNSServer string
	Network         string            // one of "ip4", "ip6", default is "ip"
	StaticHosts     map[string]string // resembles /etc/hosts
}

func (c *ResolveConfig) Clone() *ResolveConfig {
	if c == nil {
		return nil
	}
	return &ResolveConfig{
		CustomDNSServer: c.CustomDNSServer,
		Network:         c.Network,
		StaticHosts:     c.StaticHosts,
	}
}

// Merge returns a config where the unset fields of c are taken from o.
// Static hosts of c shadow those of o.
func (c *ResolveConfig) Merge(o *ResolveConfig) *ResolveConfig {
	if c == nil {
		return o.Clone()
	}
	r := c.Clone()
	if o == nil {
		return r
	}
	if r.CustomDNSServer == "" {
		r.CustomDNSServer = o.CustomDNSServer
	}
	if r.Network == "" {
		r.Network = o.Network
	}
	if len(o.StaticHosts) > 0 {
		hosts := maps.Clone(o.StaticHosts)
		maps.Copy(hosts, c.StaticHosts)
		r.StaticHosts = hosts
	}
	return r
}

// serverContext carries the DNS server a lookup should be sent to. The
// resolver's Dial only sees the context, not the ResolveConfig.
type serverContext struct {
	context.Context
	server string
}

type serverKey struct{}

func (c serverContext) Value(key any) any {
	if key == (serverKey{}) {
		return c.server
	}
	return c.Context.Value(key)
}

var serverResolver = &net.Resolver{
	PreferGo: true,
	Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		if server, _ := ctx.Value(serverKey{}).(string); server != "" {
			address = server
		}
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	},
}

// resolve honours static hosts before asking DNS.
func (d *CoreDialer) resolve(ctx context.Context, cfg *ResolveConfig, host string) ([]net.IP, error) {
	if cfg != nil {
		if static, ok := cfg.StaticHosts[host]; ok {
			if ip := net.ParseIP(static); ip != nil {
				return []net.IP{ip}, nil
			}
			host = static
		}
	}
	return d.lookup(ctx, cfg, host)
}

func (d *CoreDialer) lookup(ctx context.Context, cfg *ResolveConfig, host string) ([]net.IP, error) {
	network, server := "ip", ""
	if cfg != nil {
		server = cfg.CustomDNSServer
		if cfg.Network != "" {
			network = cfg.Network
		}
	}
	return d.LookupIPServer(ctx, network, host, server)
}

// LookupIPServer resolves host using dns as the name server, or the system
// configuration when dns is empty.
func (d *CoreDialer) LookupIPServer(ctx context.Context, network, host, dns string) ([]net.IP, error) {
	if dns == "" {
		return net.DefaultResolver.LookupIP(ctx, network, host)
	}
	return serverResolver.LookupIP(serverContext{ctx, dns}, network, host)
}
