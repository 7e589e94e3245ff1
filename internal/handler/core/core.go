// Package core is the handler speaking HTTP/1.1 itself over pooled
// keep-alive connections.
package core

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/frankli0324/go-networking/internal/director"
	"github.com/frankli0324/go-networking/internal/dialer"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/instance"
	"github.com/frankli0324/go-networking/internal/log"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/proxy"
	"github.com/frankli0324/go-networking/utils/netpool"
)

const Name = "core"

func init() {
	director.Register(Name, func(opts handler.Options) (handler.Handler, error) {
		return New(opts), nil
	})
}

const (
	maxConnsPerHost = 100
	maxIdlePerHost  = 80
	idleTimeout     = 90 * time.Second
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
		return h.newSession(call.Jar), nil
	})
	if err != nil {
		return nil, handler.Translate(err)
	}
	rt := handler.Chain(func(ctx context.Context, r *model.PreparedRequest) (*handler.Hop, error) {
		return s.roundTrip(ctx, call, r)
	}, h.middlewares...)
	return handler.Exchange(shadowStandardClientTrace(ctx), call, h.log, rt)
}

func (h *Handler) Close() error {
	return h.sessions.Clear()
}

// session is everything a cookie store owns: its connections.
type session struct {
	jar     http.CookieJar
	pools   *netpool.PoolGroup
	dialers [2]dialer.Dialer // indexed by legacy_ssl
	log     *slog.Logger
}

func (h *Handler) newSession(jar http.CookieJar) *session {
	pools := netpool.NewGroup(maxConnsPerHost, maxIdlePerHost)
	pools.Logger = h.log
	pools.MaxIdleDuration = idleTimeout
	return &session{
		jar:     jar,
		pools:   pools,
		dialers: [2]dialer.Dialer{h.opts.Dialer(false), h.opts.Dialer(true)},
		log:     h.log,
	}
}

func (s *session) Close() error {
	return s.pools.Close()
}

func (s *session) dialer(legacy bool) dialer.Dialer {
	if legacy {
		return s.dialers[1]
	}
	return s.dialers[0]
}

// poolKey separates connections that cannot be shared: a forwarding proxy
// connection is reused for any origin, tunnels and direct connections only
// for their origin.
type poolKey struct {
	scheme, addr string
	proxy        string
	legacy       bool
}

func keyFor(target, proxyURL *url.URL, legacy bool) poolKey {
	k := poolKey{scheme: target.Scheme, addr: proxy.HostPort(target), legacy: legacy}
	if proxyURL != nil {
		k.proxy = proxyURL.String()
		if dialer.Forwarding(target, proxyURL) {
			k.addr = ""
		}
	}
	return k
}
