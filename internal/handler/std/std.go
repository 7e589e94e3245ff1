// Package std is the handler built on net/http, speaking HTTP/2 where the
// server offers it.
package std

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/frankli0324/go-networking/internal/director"
	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/instance"
	"github.com/frankli0324/go-networking/internal/log"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/proxy"
)

const Name = "std"

// Preference ranks std above handlers without a preference.
const Preference = 100

func init() {
	director.Register(Name, func(opts handler.Options) (handler.Handler, error) {
		return New(opts), nil
	})
	director.RegisterPreference(func(handler.Handler, *model.Request) int { return Preference }, Name)
}

const (
	maxIdleConnsPerHost = 80
	idleConnTimeout     = 90 * time.Second
)

type Handler struct {
	opts        handler.Options
	caps        handler.Capabilities
	log         *slog.Logger
	sessions    instance.Pool[*session]
	middlewares []handler.Middleware
}

func New(opts handler.Options) *Handler {
	opts = opts.WithDefaults()
	h := &Handler{
		opts: opts,
		caps: handler.DefaultCapabilities(),
		log:  log.WithHandler(opts.Logger, Name),
	}
	if opts.Verbose {
		h.Use(handler.LogHops(h.log, log.LevelTrace))
	}
	return h
}

// Use appends mws to the chain wrapping every hop.
func (h *Handler) Use(mws ...handler.Middleware) {
	h.middlewares = append(h.middlewares, mws...)
}

func (h *Handler) Name() string { return Name }

func (h *Handler) Capabilities() handler.Capabilities { return h.caps }

func (h *Handler) Validate(r *model.Request) error {
	return handler.Check(h.caps, r)
}

func (h *Handler) Send(ctx context.Context, r *model.Request) (*model.Response, error) {
	call, err := handler.NewCall(h.caps, h.opts, r)
	if err != nil {
		return nil, err
	}
	s, err := h.sessions.Get(instance.KeyOf(call.Jar), func() (*session, error) {
		return &session{h: h, clients: map[clientKey]*http.Client{}}, nil
	})
	if err != nil {
		return nil, handler.Translate(err)
	}
	rt := handler.Chain(func(ctx context.Context, r *model.PreparedRequest) (*handler.Hop, error) {
		return s.roundTrip(ctx, call, r)
	}, h.middlewares...)
	return handler.Exchange(ctx, call, h.log, rt)
}

func (h *Handler) Close() error {
	return h.sessions.Clear()
}

type clientKey struct {
	proxy  string
	legacy bool
}

// session owns one client per (proxy, legacy_ssl) pair of a cookie store.
// Cookies are handled by the caller, the clients have no jar.
type session struct {
	h       *Handler
	mu      sync.Mutex
	clients map[clientKey]*http.Client
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.clients {
		c.CloseIdleConnections()
		delete(s.clients, k)
	}
	return nil
}

func (s *session) client(proxyURL *url.URL, legacy bool) *http.Client {
	k := clientKey{legacy: legacy}
	if proxyURL != nil {
		k.proxy = proxyURL.String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[k]; ok {
		return c
	}
	c := &http.Client{
		Transport: s.h.newTransport(proxyURL, legacy),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	s.clients[k] = c
	return c
}

func (h *Handler) newTransport(proxyURL *url.URL, legacy bool) *http.Transport {
	d := h.opts.Dialer(legacy)
	t := &http.Transport{
		TLSClientConfig:     d.TLSConfig,
		DisableCompression:  true, // Accept-Encoding is set and decoded by the caller
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		DialContext:         d.DialTCP,
	}
	switch {
	case proxyURL == nil:
	case proxy.IsSOCKS(proxyURL.Scheme):
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return d.DialTunnel(ctx, proxyURL, addr)
		}
	default:
		// plain http goes through the proxy in absolute-form, https is
		// tunnelled by the dialer so that CONNECT failures are typed
		proxyAddr := proxy.HostPort(proxyURL)
		t.Proxy = func(r *http.Request) (*url.URL, error) {
			if r.URL.Scheme == "http" {
				return proxyURL, nil
			}
			return nil, nil
		}
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if addr == proxyAddr {
				return d.DialProxy(ctx, proxyURL)
			}
			return d.DialTunnel(ctx, proxyURL, addr)
		}
		if proxyURL.Scheme == "https" {
			// net/http hands every dial to DialTLSContext once the proxy
			// speaks TLS, so origin handshakes happen here as well
			t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if addr == proxyAddr {
					return d.DialProxy(ctx, proxyURL)
				}
				conn, err := d.DialTunnel(ctx, proxyURL, addr)
				if err != nil {
					return nil, err
				}
				return tlsClient(ctx, conn, t.TLSClientConfig, addr)
			}
		}
	}
	if err := http2.ConfigureTransport(t); err != nil {
		h.log.Warn("http2 unavailable", "error", err)
	}
	return t
}

func tlsClient(ctx context.Context, conn net.Conn, cfg *tls.Config, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tc, nil
}

func (s *session) roundTrip(ctx context.Context, call *handler.Call, r *model.PreparedRequest) (*handler.Hop, error) {
	proxyURL, err := call.ProxyFor(r.U)
	if err != nil {
		return nil, err
	}
	body, err := r.GetBody()
	if err != nil {
		return nil, err
	}
	if s.h.opts.Verbose {
		ctx = httptrace.WithClientTrace(ctx, s.h.trace(ctx))
	}
	u := *r.U
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		body.Close()
		return nil, errs.NewRequestError("invalid request", err)
	}
	req.URL = &u
	req.Header = r.Header.Clone()
	req.Host = r.HeaderHost
	req.ContentLength = r.ContentLength
	if body == http.NoBody {
		req.ContentLength = 0
	}
	if r.Replayable() {
		req.GetBody = r.GetBody
	}

	resp, err := s.client(proxyURL, call.LegacySSL).Do(req)
	if err != nil {
		return nil, err
	}
	return &handler.Hop{
		Status:        resp.StatusCode,
		Reason:        reason(resp),
		Header:        resp.Header,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}

func reason(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
