package nettools

import (
	"context"
	"net"
	"syscall"
	"time"
)

type Mode int

const (
	ModePoll Mode = iota
	ModeSelect
)

// a probe reports whether the socket has pending input, an error or a
// hangup. An idle keep-alive connection must have none of those.
type probe func(fd int) bool

var (
	supported = map[Mode]probe{}
	picked    probe
)

func init() {
	for _, mode := range []Mode{ModePoll, ModeSelect} {
		if supported[mode] != nil {
			picked = supported[mode]
			break
		}
	}
}

// IsStale reports whether an idle connection can no longer carry a new
// request: the peer closed it or sent bytes nobody asked for. Connections
// without a file descriptor are assumed to be alive.
func IsStale(c net.Conn) bool {
	return isStale(c, picked)
}

// IsStaleMode is [IsStale] with an explicit probing mode. It returns false
// when mode is not supported on this platform.
func IsStaleMode(c net.Conn, mode Mode) bool {
	return isStale(c, supported[mode])
}

func isStale(c net.Conn, p probe) bool {
	if p == nil {
		return false
	}
	rc := connsToFD(c)
	if rc == nil {
		return false
	}
	stale := false
	if err := rc.Control(func(fd uintptr) {
		stale = p(int(fd))
	}); err != nil {
		return true // already closed
	}
	return stale
}

func connsToFD(raw net.Conn) syscall.RawConn {
	for {
		t, ok := raw.(interface{ NetConn() net.Conn })
		if !ok {
			break
		}
		// is *tls.Conn or a wrapper around the socket
		raw = t.NetConn()
	}
	if c, ok := raw.(syscall.Conn); ok {
		if c, err := c.SyscallConn(); err == nil {
			return c
		}
	}
	return nil
}

var aLongTimeAgo = time.Unix(1, 0)

// WatchContext makes blocking I/O on c honour ctx until the returned stop
// function is called. stop reports whether ctx had not fired yet.
func WatchContext(ctx context.Context, c net.Conn) (stop func() bool) {
	if dl, ok := ctx.Deadline(); ok {
		c.SetDeadline(dl)
	}
	after := context.AfterFunc(ctx, func() { c.SetDeadline(aLongTimeAgo) })
	return func() bool {
		ok := after()
		c.SetDeadline(time.Time{})
		return ok
	}
}

// ContextError prefers the context's cause when I/O was interrupted by it,
// so timeouts surface as timeouts rather than as a closed pipe. The I/O
// error stays in the chain.
func ContextError(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	return &interruptedError{cause: context.Cause(ctx), err: err}
}

type interruptedError struct{ cause, err error }

func (e *interruptedError) Error() string   { return e.cause.Error() + " (" + e.err.Error() + ")" }
func (e *interruptedError) Unwrap() []error { return []error{e.cause, e.err} }
