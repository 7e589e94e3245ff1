// Package handler defines the contract every HTTP backend implements and
// the behaviour they share: request validation, redirects, cookies, body
// accounting, timeouts and error translation.
package handler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/frankli0324/go-networking/internal/dialer"
	"github.com/frankli0324/go-networking/internal/log"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/proxy"
)

// Handler performs requests over one backend. Implementations are safe for
// concurrent use.
type Handler interface {
	Name() string
	Capabilities() Capabilities
	// Validate reports whether the handler can serve r without performing
	// any I/O. The error is a *errors.RequestError.
	Validate(r *model.Request) error
	// Send performs r. Errors belong to the taxonomy of internal/errors.
	Send(ctx context.Context, r *model.Request) (*model.Response, error)
	// Close releases every pooled session.
	Close() error
}

type Feature string

const (
	FeatureNoProxy  Feature = "NO_PROXY"
	FeatureAllProxy Feature = "ALL_PROXY"
)

// Capabilities describes what a handler supports.
type Capabilities struct {
	URLSchemes   []string
	ProxySchemes []string
	Encodings    []string
	Features     []Feature
	Extensions   []string
}

func (c Capabilities) HasFeature(f Feature) bool {
	return slices.Contains(c.Features, f)
}

const (
	DefaultTimeout      = 20 * time.Second
	DefaultMaxRedirects = 20
)

// Options configure a handler at construction.
type Options struct {
	Logger *slog.Logger

	// Headers are sent with every request unless the request sets them.
	Headers http.Header
	// CookieJar is used by requests without a cookiejar extension.
	CookieJar http.CookieJar
	// Timeout bounds inactivity of a request, see [Watchdog].
	Timeout time.Duration
	Proxies model.Proxies

	// SourceAddress is the local IP outgoing sockets are bound to.
	SourceAddress      string
	InsecureSkipVerify bool
	LegacySSL          bool
	ClientCert         *tls.Certificate
	RootCAs            *x509.CertPool
	ResolveConfig      *dialer.ResolveConfig

	// ProxyTLSConfig verifies https proxies, nil uses the origin settings.
	ProxyTLSConfig      *tls.Config
	// ProxyResolveConfig overrides ResolveConfig for proxy hostnames.
	ProxyResolveConfig  *dialer.ResolveConfig
	// ProxyResolveLocally resolves origins before a CONNECT is sent, so the
	// proxy only sees addresses.
	ProxyResolveLocally bool

	MaxRedirects int
	// Verbose logs wire level events at the trace level.
	Verbose bool

	// Dial replaces TCP dialing, to proxies as well as to origins.
	Dial proxy.DialFunc
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
	if o.CookieJar == nil {
		o.CookieJar = NewCookieJar()
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.MaxRedirects < 0 {
		o.MaxRedirects = 0
	}
	return o
}

// Dialer builds the dialer for one (legacy_ssl) flavour of o.
func (o Options) Dialer(legacy bool) *dialer.CoreDialer {
	d := &dialer.CoreDialer{
		ResolveConfig: o.ResolveConfig,
		TLSConfig:     o.TLSConfig(legacy),
		SourceAddress: o.SourceAddress,
		Dial:          o.Dial,
	}
	if o.ProxyTLSConfig != nil || o.ProxyResolveConfig != nil || o.ProxyResolveLocally {
		d.ProxyConfig = &dialer.ProxyConfig{
			TLSConfig:      o.ProxyTLSConfig,
			ResolveLocally: o.ProxyResolveLocally,
			ResolveConfig:  o.ProxyResolveConfig,
		}
	}
	return d
}

// TLSConfig returns the client TLS settings. Legacy mode accepts TLS 1.0
// and the insecure cipher suites old servers still need.
func (o Options) TLSConfig(legacy bool) *tls.Config {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.InsecureSkipVerify,
		RootCAs:            o.RootCAs,
	}
	if o.ClientCert != nil {
		cfg.Certificates = []tls.Certificate{*o.ClientCert}
	}
	if legacy || o.LegacySSL {
		cfg.MinVersion = tls.VersionTLS10
		for _, s := range tls.CipherSuites() {
			cfg.CipherSuites = append(cfg.CipherSuites, s.ID)
		}
		for _, s := range tls.InsecureCipherSuites() {
			cfg.CipherSuites = append(cfg.CipherSuites, s.ID)
		}
	}
	return cfg
}
