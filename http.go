// Package networking sends HTTP(S) requests through interchangeable
// backends. A [Director] holds every registered [Handler] and picks the best
// one able to serve each request; whichever backend answers, failures are
// reported with the error types of this package.
package networking

import (
	"net/http"

	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/model"
)

type Header = http.Header
type Request = model.Request
type PreparedRequest = model.PreparedRequest
type Response = model.Response
type Extensions = model.Extensions
type Proxies = model.Proxies

type Handler = handler.Handler
type Capabilities = handler.Capabilities
type Feature = handler.Feature
type Options = handler.Options

type Middleware = handler.Middleware
type RoundTripFunc = handler.RoundTripFunc
type Hop = handler.Hop

const (
	FeatureNoProxy  = handler.FeatureNoProxy
	FeatureAllProxy = handler.FeatureAllProxy
)

// Extension keys understood by the built-in handlers.
const (
	ExtTimeout   = model.ExtTimeout
	ExtCookieJar = model.ExtCookieJar
	ExtLegacySSL = model.ExtLegacySSL
	ExtProxies   = model.ExtProxies
)

// Errors returned by [Director.Send] and by reads of a [Response] body.
type (
	Kind                   = errs.Kind
	RequestError           = errs.RequestError
	TransportError         = errs.TransportError
	SSLError               = errs.SSLError
	CertificateVerifyError = errs.CertificateVerifyError
	ProxyError             = errs.ProxyError
	IncompleteRead         = errs.IncompleteRead
	HTTPError              = errs.HTTPError
)

// Kinds usable with errors.Is, e.g. errors.Is(err, KindTransport) holds for
// every *SSLError.
const (
	KindRequest           = errs.KindRequest
	KindTransport         = errs.KindTransport
	KindSSL               = errs.KindSSL
	KindCertificateVerify = errs.KindCertificateVerify
	KindProxy             = errs.KindProxy
	KindIncompleteRead    = errs.KindIncompleteRead
	KindHTTP              = errs.KindHTTP
)

// NewCookieJar returns the in-memory cookie store handlers use by default.
func NewCookieJar() http.CookieJar { return handler.NewCookieJar() }
