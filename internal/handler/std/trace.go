package std

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"

	"github.com/frankli0324/go-networking/internal/log"
)

// trace logs connection level events at trace level.
func (h *Handler) trace(ctx context.Context) *httptrace.ClientTrace {
	l := h.log
	return &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			log.Trace(ctx, l, "get conn", log.String("addr", hostPort))
		},
		GotConn: func(info httptrace.GotConnInfo) {
			log.Trace(ctx, l, "got conn",
				log.String("remote", info.Conn.RemoteAddr().String()),
				log.Bool("reused", info.Reused))
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			log.Trace(ctx, l, "dns done", log.Int("addrs", len(info.Addrs)), log.Error(info.Err))
		},
		ConnectDone: func(network, addr string, err error) {
			log.Trace(ctx, l, "connect done", log.String("addr", addr), log.Error(err))
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			log.Trace(ctx, l, "tls handshake done",
				log.String("server_name", state.ServerName),
				log.String("alpn", state.NegotiatedProtocol),
				log.Error(err))
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			log.Trace(ctx, l, "wrote request", log.Error(info.Err))
		},
		GotFirstResponseByte: func() {
			log.Trace(ctx, l, "first response byte")
		},
	}
}
