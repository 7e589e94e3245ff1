// Package errors is the closed set of errors a handler may return.
//
// Every type here reports a [Kind]. Kinds nest the same way the types do
// conceptually, so errors.Is(err, KindTransport) holds for an *SSLError:
//
//	Request
//	├── Transport
//	│   ├── SSL
//	│   │   └── CertificateVerify
//	│   ├── Proxy
//	│   └── IncompleteRead
//	└── HTTP
package errors

import (
	"errors"
	"fmt"

	"github.com/frankli0324/go-networking/internal/model"
)

type Kind int

const (
	KindRequest Kind = iota
	KindTransport
	KindSSL
	KindCertificateVerify
	KindProxy
	KindIncompleteRead
	KindHTTP
)

var kindNames = [...]string{
	KindRequest:           "request error",
	KindTransport:         "transport error",
	KindSSL:               "ssl error",
	KindCertificateVerify: "certificate verify error",
	KindProxy:             "proxy error",
	KindIncompleteRead:    "incomplete read",
	KindHTTP:              "http error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Parent returns the enclosing kind. KindRequest is its own parent.
func (k Kind) Parent() Kind {
	switch k {
	case KindTransport, KindHTTP:
		return KindRequest
	case KindSSL, KindProxy, KindIncompleteRead:
		return KindTransport
	case KindCertificateVerify:
		return KindSSL
	}
	return KindRequest
}

// Within reports whether k is target or nested inside it.
func (k Kind) Within(target Kind) bool {
	for {
		if k == target {
			return true
		}
		if k == KindRequest {
			return false
		}
		k = k.Parent()
	}
}

// Error is implemented by every error of the taxonomy.
type Error interface {
	error
	Kind() Kind
	Unwrap() error
}

// KindOf returns the kind of the first taxonomy error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e Error
	if errors.As(err, &e) {
		return e.Kind(), true
	}
	return 0, false
}

// base carries the parts shared by all kinds.
type base struct {
	Msg   string
	Cause error
}

func (b *base) message(k Kind) string {
	switch {
	case b.Msg != "" && b.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", k, b.Msg, b.Cause)
	case b.Msg != "":
		return fmt.Sprintf("%s: %s", k, b.Msg)
	case b.Cause != nil:
		return fmt.Sprintf("%s: %v", k, b.Cause)
	}
	return k.String()
}

func (b *base) Unwrap() error { return b.Cause }

type RequestError struct{ base }

func NewRequestError(msg string, cause error) *RequestError {
	return &RequestError{base{msg, cause}}
}

func (e *RequestError) Kind() Kind           { return KindRequest }
func (e *RequestError) Error() string        { return e.message(e.Kind()) }
func (e *RequestError) Is(target error) bool { return is(e.Kind(), target) }

type TransportError struct{ base }

func NewTransportError(msg string, cause error) *TransportError {
	return &TransportError{base{msg, cause}}
}

func (e *TransportError) Kind() Kind           { return KindTransport }
func (e *TransportError) Error() string        { return e.message(e.Kind()) }
func (e *TransportError) Is(target error) bool { return is(e.Kind(), target) }

type SSLError struct{ base }

func NewSSLError(cause error) *SSLError {
	return &SSLError{base{Cause: cause}}
}

func (e *SSLError) Kind() Kind           { return KindSSL }
func (e *SSLError) Error() string        { return e.message(e.Kind()) }
func (e *SSLError) Is(target error) bool { return is(e.Kind(), target) }

type CertificateVerifyError struct{ base }

func NewCertificateVerifyError(cause error) *CertificateVerifyError {
	return &CertificateVerifyError{base{Cause: cause}}
}

func (e *CertificateVerifyError) Kind() Kind           { return KindCertificateVerify }
func (e *CertificateVerifyError) Error() string        { return e.message(e.Kind()) }
func (e *CertificateVerifyError) Is(target error) bool { return is(e.Kind(), target) }

type ProxyError struct{ base }

func NewProxyError(cause error) *ProxyError {
	return &ProxyError{base{Cause: cause}}
}

func (e *ProxyError) Kind() Kind           { return KindProxy }
func (e *ProxyError) Error() string        { return e.message(e.Kind()) }
func (e *ProxyError) Is(target error) bool { return is(e.Kind(), target) }

// IncompleteRead reports a body that ended before Expected bytes arrived.
// Expected is -1 when unknown.
type IncompleteRead struct {
	base
	Partial  int64
	Expected int64
}

func NewIncompleteRead(partial, expected int64, cause error) *IncompleteRead {
	return &IncompleteRead{base: base{Cause: cause}, Partial: partial, Expected: expected}
}

func (e *IncompleteRead) Kind() Kind { return KindIncompleteRead }
func (e *IncompleteRead) Error() string {
	if e.Expected >= 0 {
		return fmt.Sprintf("%s: %d bytes read, %d more expected", e.Kind(), e.Partial, e.Expected-e.Partial)
	}
	return fmt.Sprintf("%s: %d bytes read", e.Kind(), e.Partial)
}
func (e *IncompleteRead) Is(target error) bool { return is(e.Kind(), target) }

// HTTPError carries a response whose status is outside [200, 300). The
// response is still open, callers must close it.
type HTTPError struct {
	base
	Response     *model.Response
	RedirectLoop bool
}

func NewHTTPError(resp *model.Response, redirectLoop bool) *HTTPError {
	return &HTTPError{Response: resp, RedirectLoop: redirectLoop}
}

func (e *HTTPError) Kind() Kind { return KindHTTP }
func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("HTTP Error %d: %s", e.Response.Status, e.Response.Reason)
	if e.RedirectLoop {
		msg += " (redirect loop detected)"
	}
	return msg
}
func (e *HTTPError) Is(target error) bool { return is(e.Kind(), target) }

func is(k Kind, target error) bool {
	t, ok := target.(Kind)
	return ok && k.Within(t)
}

var (
	_ Error = (*RequestError)(nil)
	_ Error = (*TransportError)(nil)
	_ Error = (*SSLError)(nil)
	_ Error = (*CertificateVerifyError)(nil)
	_ Error = (*ProxyError)(nil)
	_ Error = (*IncompleteRead)(nil)
	_ Error = (*HTTPError)(nil)
)
