package model

import (
	"maps"
	"net/http"
	"time"
)

// Request describes one outbound call. A Request is never modified by a
// handler; handlers work on the copy returned by [Request.Prepare].
type Request struct {
	Method string
	URL    string
	Body   interface{}
	Header http.Header

	Extensions Extensions
	Proxies    Proxies
}

// Extension keys understood by the built-in handlers.
const (
	ExtTimeout   = "timeout"
	ExtCookieJar = "cookiejar"
	ExtLegacySSL = "legacy_ssl"
	ExtProxies   = "proxies"
)

// Extensions holds named per-request options. Handlers reject keys they do
// not implement instead of ignoring them.
type Extensions map[string]interface{}

func (e Extensions) Clone() Extensions {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// Timeout returns the timeout extension. Numbers are seconds.
func (e Extensions) Timeout() (d time.Duration, ok bool, err error) {
	v, ok := e[ExtTimeout]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case time.Duration:
		d = t
	case float64:
		d = time.Duration(t * float64(time.Second))
	case float32:
		d = time.Duration(float64(t) * float64(time.Second))
	case int:
		d = time.Duration(t) * time.Second
	case int64:
		d = time.Duration(t) * time.Second
	default:
		return 0, false, &ExtensionTypeError{Key: ExtTimeout, Value: v}
	}
	if d <= 0 {
		return 0, false, &ExtensionTypeError{Key: ExtTimeout, Value: v}
	}
	return d, true, nil
}

// CookieJar returns the cookiejar extension.
func (e Extensions) CookieJar() (http.CookieJar, bool, error) {
	v, ok := e[ExtCookieJar]
	if !ok || v == nil {
		return nil, false, nil
	}
	jar, ok := v.(http.CookieJar)
	if !ok {
		return nil, false, &ExtensionTypeError{Key: ExtCookieJar, Value: v}
	}
	return jar, true, nil
}

// LegacySSL returns the legacy_ssl extension.
func (e Extensions) LegacySSL() (bool, error) {
	v, ok := e[ExtLegacySSL]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &ExtensionTypeError{Key: ExtLegacySSL, Value: v}
	}
	return b, nil
}

// Proxies returns the proxies extension.
func (e Extensions) Proxies() (Proxies, bool, error) {
	v, ok := e[ExtProxies]
	if !ok || v == nil {
		return nil, false, nil
	}
	switch p := v.(type) {
	case Proxies:
		return p, true, nil
	case map[string]string:
		return Proxies(p), true, nil
	}
	return nil, false, &ExtensionTypeError{Key: ExtProxies, Value: v}
}

// Proxies maps a URL scheme to a proxy URL. The key "all" applies to every
// scheme without its own entry, the key "no" lists comma separated hosts
// that are never proxied.
type Proxies map[string]string

const (
	ProxyKeyAll = "all"
	ProxyKeyNo  = "no"
)

func (p Proxies) Clone() Proxies {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}
