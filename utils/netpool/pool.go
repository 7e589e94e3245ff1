package netpool

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/frankli0324/go-networking/utils/nettools"
)

// Conn is a connection checked out of a [Pool]. Exactly one of Release or
// Close gives it back; later calls are no-ops.
type Conn interface {
	io.ReadWriteCloser
	// Release returns the connection for reuse. It must only be called
	// once the previous response has been read completely.
	Release()
	Raw() net.Conn
	// Reused reports whether the connection carried an earlier request.
	Reused() bool
}

type Pool struct {
	connTicket      chan struct{}
	idleTicket      chan *conn
	maxIdleDuration time.Duration
	group           *PoolGroup
	closed          atomic.Bool
}

func NewPool(maxIdle, maxConn uint) *Pool {
	return &Pool{
		connTicket: make(chan struct{}, maxConn),
		idleTicket: make(chan *conn, maxIdle),
	}
}

func (p *Pool) Connect(ctx context.Context, dial func(ctx context.Context) (net.Conn, error)) (Conn, error) {
	select {
	case p.connTicket <- struct{}{}:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
	for {
		select {
		case c := <-p.idleTicket:
			if p.maxIdleDuration != 0 && time.Since(c.lastIdle) > p.maxIdleDuration {
				c.Close()
			} else if !c.Available() || nettools.IsStale(c.conn) {
				c.Close()
			} else {
				return &lease{conn: c, p: p, reused: true}, nil
			}
		default:
			raw, err := dial(ctx)
			if err != nil {
				<-p.connTicket
				return nil, err
			}
			return &lease{conn: &conn{conn: raw, log: p.logger()}, p: p}, nil
		}
	}
}

func (p *Pool) logger() *slog.Logger {
	if p.group != nil && p.group.Logger != nil {
		return p.group.Logger
	}
	return slog.Default()
}

func (p *Pool) release(c *conn) {
	<-p.connTicket
	if !c.Available() {
		return
	}
	if p.closed.Load() {
		c.Close()
		return
	}
	c.lastIdle = time.Now()
	select {
	case p.idleTicket <- c:
	default:
		c.Close()
	}
}

func (p *Pool) closeIdle() {
	p.closed.Store(true)
	for {
		select {
		case c := <-p.idleTicket:
			c.Close()
		default:
			return
		}
	}
}

type lease struct {
	*conn
	p      *Pool
	done   atomic.Bool
	reused bool
}

func (l *lease) Release() {
	if l.done.CompareAndSwap(false, true) {
		l.p.release(l.conn)
	}
}

func (l *lease) Close() error {
	if !l.done.CompareAndSwap(false, true) {
		return nil
	}
	err := l.conn.Close()
	<-l.p.connTicket
	return err
}

func (l *lease) Raw() net.Conn { return l.conn.conn }

func (l *lease) Reused() bool { return l.reused }
