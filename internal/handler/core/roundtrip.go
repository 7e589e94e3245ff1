package core

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/frankli0324/go-networking/internal/dialer"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/log"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/transport"
	"github.com/frankli0324/go-networking/utils/netpool"
	"github.com/frankli0324/go-networking/utils/nettools"
)

func (s *session) roundTrip(ctx context.Context, call *handler.Call, r *model.PreparedRequest) (*handler.Hop, error) {
	proxyURL, err := call.ProxyFor(r.U)
	if err != nil {
		return nil, err
	}
	forwarding := dialer.Forwarding(r.U, proxyURL)
	if forwarding && proxyURL.User != nil {
		pass, _ := proxyURL.User.Password()
		cp := *r
		cp.Header = r.Header.Clone()
		cp.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(proxyURL.User.Username()+":"+pass)))
		r = &cp
	}

	key := keyFor(r.U, proxyURL, call.LegacySSL)
	d := s.dialer(call.LegacySSL)
	dial := func(ctx context.Context) (net.Conn, error) {
		c, err := d.DialContext(ctx, r.U, proxyURL)
		if err == nil {
			log.Trace(ctx, s.log, "connected", log.String("remote", c.RemoteAddr().String()))
		}
		return c, err
	}
	for attempt := 0; ; attempt++ {
		conn, err := s.pools.Connect(ctx, key, dial)
		if err != nil {
			return nil, nettools.ContextError(ctx, err)
		}
		hop, err := exchange(ctx, conn, transport.HTTP1{Proxied: forwarding}, r)
		if err == nil {
			return hop, nil
		}
		// a kept-alive connection may have been closed by the server while
		// idle, the request is retried once on a fresh one
		if attempt == 0 && conn.Reused() && r.Replayable() && ctx.Err() == nil && idleClosed(err) {
			s.log.Debug("retrying on a fresh connection", "error", err)
			continue
		}
		return nil, nettools.ContextError(ctx, err)
	}
}

func idleClosed(err error) bool {
	var ne net.Error
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || (errors.As(err, &ne) && !ne.Timeout())
}

func exchange(ctx context.Context, conn netpool.Conn, codec transport.Transport, r *model.PreparedRequest) (*handler.Hop, error) {
	stop := nettools.WatchContext(ctx, conn.Raw())
	if err := codec.Write(conn, r); err != nil {
		stop()
		conn.Close()
		return nil, err
	}
	br := bufio.NewReader(conn)
	resp := &transport.Response{}
	if err := codec.Read(br, r, resp); err != nil {
		stop()
		conn.Close()
		return nil, err
	}
	b := &connBody{ctx: ctx, r: resp.Body, br: br, conn: conn, reusable: !resp.Close, stop: stop}
	if resp.Body == http.NoBody {
		b.finish(true)
	}
	return &handler.Hop{
		Status:        resp.StatusCode,
		Reason:        resp.Reason,
		Header:        resp.Header,
		Body:          b,
		ContentLength: resp.ContentLength,
	}, nil
}

// connBody hands the connection back to its pool once the body reached its
// end and closes it otherwise.
type connBody struct {
	ctx      context.Context
	r        io.Reader
	br       *bufio.Reader
	conn     netpool.Conn
	reusable bool
	stop     func() bool

	mu   sync.Mutex
	done bool
}

func (b *connBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done {
		return 0, io.EOF
	}
	n, err := b.r.Read(p)
	switch {
	case err == io.EOF:
		b.finish(b.complete(true))
	case err != nil:
		b.finish(false)
		err = nettools.ContextError(b.ctx, err)
	}
	return n, err
}

func (b *connBody) Close() error {
	b.finish(b.complete(false))
	return nil
}

// complete reports whether the body reached its framed end. A Content-Length
// body consumed up to the last byte is complete even when the reader never
// asked for more, and one cut short by EOF is not.
func (b *connBody) complete(eof bool) bool {
	if lr, ok := b.r.(*io.LimitedReader); ok {
		return lr.N == 0
	}
	return eof
}

func (b *connBody) finish(complete bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	b.stop()
	// bytes past the response mean the stream is out of sync
	if complete && b.reusable && b.br.Buffered() == 0 {
		b.conn.Release()
		return
	}
	b.conn.Close()
}
