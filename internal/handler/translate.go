package handler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"

	"golang.org/x/net/http2"

	"github.com/frankli0324/go-networking/internal/encoding"
	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/proxy"
	"github.com/frankli0324/go-networking/internal/transport"
	"github.com/frankli0324/go-networking/internal/transport/chunked"
)

// Translate maps a backend error raised before the request was sent onto
// the taxonomy. Errors already in the taxonomy are returned unchanged;
// anything unrecognised becomes a *errors.RequestError so that no backend
// type escapes.
func Translate(err error) error {
	return translate(err, func(err error) error { return errs.NewRequestError("", err) })
}

// TranslateTransfer is [Translate] for errors raised once the request may
// have reached the wire: while writing it, reading the response or reading
// the body. Anything unrecognised is a transport fault, except failures
// reading the caller's own request body.
func TranslateTransfer(err error) error {
	return translate(err, func(err error) error { return errs.NewTransportError("", err) })
}

func translate(err error, fallback func(error) error) error {
	if err == nil {
		return nil
	}
	if known, ok := asTaxonomy(err); ok {
		return known
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		err = ue.Err
	}

	var be *model.BodyError
	if errors.As(err, &be) {
		return errs.NewRequestError("reading request body", err)
	}
	var pe *proxy.Error
	if errors.As(err, &pe) {
		return errs.NewProxyError(err)
	}
	if isCertificateError(err) {
		return errs.NewCertificateVerifyError(err)
	}
	if isTLSError(err) {
		return errs.NewSSLError(err)
	}
	var de *encoding.DecodeError
	if errors.As(err, &de) {
		return errs.NewTransportError("content decoding failed", err)
	}
	// a canceled context also trips socket deadlines, the cause wins
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrInactive) {
		return errs.NewTransportError("timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.NewTransportError("canceled", err)
	}
	if isTimeout(err) {
		return errs.NewTransportError("timed out", err)
	}
	if isProtocolError(err) {
		return errs.NewTransportError("malformed response", err)
	}
	if isTransportError(err) {
		return errs.NewTransportError("", err)
	}
	return fallback(err)
}

func isCertificateError(err error) bool {
	var (
		cve *tls.CertificateVerificationError
		ua  x509.UnknownAuthorityError
		he  x509.HostnameError
		ci  x509.CertificateInvalidError
		sr  x509.SystemRootsError
	)
	if errors.As(err, &cve) || errors.As(err, &ua) || errors.As(err, &he) ||
		errors.As(err, &ci) || errors.As(err, &sr) {
		return true
	}
	return chainContains(err, "certificate verify failed")
}

func isTLSError(err error) bool {
	var (
		rh tls.RecordHeaderError
		ae tls.AlertError
	)
	if errors.As(err, &rh) || errors.As(err, &ae) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.HasPrefix(e.Error(), "tls: ") {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isProtocolError(err error) bool {
	var (
		pe  *transport.ProtocolError
		se  http2.StreamError
		ce  http2.ConnectionError
		goa http2.GoAwayError
	)
	return errors.As(err, &pe) || errors.As(err, &se) || errors.As(err, &ce) || errors.As(err, &goa) ||
		errors.Is(err, chunked.ErrMalformed) || errors.Is(err, chunked.ErrTooLarge)
}

func isTransportError(err error) bool {
	var (
		ne    net.Error
		op    *net.OpError
		dns   *net.DNSError
		errno syscall.Errno
	)
	return errors.As(err, &ne) || errors.As(err, &op) || errors.As(err, &dns) ||
		errors.As(err, &errno) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func chainContains(err error, s string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.Contains(e.Error(), s) {
			return true
		}
	}
	return false
}

func asTaxonomy(err error) (errs.Error, bool) {
	var known errs.Error
	ok := errors.As(err, &known)
	return known, ok
}
