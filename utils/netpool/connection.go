package netpool

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

type conn struct {
	conn     net.Conn
	isClosed atomic.Bool
	lastIdle time.Time
	log      *slog.Logger
}

func (c *conn) Available() bool {
	return !c.isClosed.Load()
}

func (c *conn) Write(p []byte) (n int, err error) {
	n, err = c.conn.Write(p)
	if err != nil {
		c.log.Debug("netpool: error on write", "remote", c.conn.RemoteAddr(), "error", err)
		c.Close()
	}
	return
}

func (c *conn) Read(p []byte) (n int, err error) {
	n, err = c.conn.Read(p)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			c.log.Debug("netpool: error on read", "remote", c.conn.RemoteAddr(), "error", err)
		}
		c.Close()
	}
	return
}

func (c *conn) Close() error {
	if c.isClosed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
