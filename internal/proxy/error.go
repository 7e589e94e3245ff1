package proxy

import "fmt"

// Error is a refusal by the proxy itself: a CONNECT answered with a non-200
// status, a SOCKS reply other than success, or a malformed handshake.
// Socket level failures are never reported as Error.
type Error struct {
	Proxy  string
	Status int // CONNECT status or SOCKS reply code, 0 if not applicable
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "proxy " + e.Proxy + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }
