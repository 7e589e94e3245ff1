package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/encoding"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/proxy"
)

// Check validates r against caps without any I/O.
func Check(caps Capabilities, r *model.Request) error {
	u, err := url.Parse(model.NormalizeURL(r.URL))
	if err != nil {
		return errs.NewRequestError("malformed url", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(caps.URLSchemes, scheme) {
		return errs.NewRequestError(fmt.Sprintf("unsupported url scheme %q", scheme), nil)
	}
	for key, value := range r.Extensions {
		if !slices.Contains(caps.Extensions, key) {
			return errs.NewRequestError(fmt.Sprintf("extension %q", key), model.ErrUnsupportedExtension)
		}
		if err := checkExtension(r.Extensions, key); err != nil {
			return errs.NewRequestError(fmt.Sprintf("extension %q = %v", key, value), err)
		}
	}
	proxies, err := effectiveProxies(r, nil)
	if err != nil {
		return errs.NewRequestError("invalid proxies", err)
	}
	return checkProxies(caps, proxies)
}

func checkExtension(e model.Extensions, key string) error {
	var err error
	switch key {
	case model.ExtTimeout:
		_, _, err = e.Timeout()
	case model.ExtCookieJar:
		_, _, err = e.CookieJar()
	case model.ExtLegacySSL:
		_, err = e.LegacySSL()
	case model.ExtProxies:
		_, _, err = e.Proxies()
	}
	return err
}

func checkProxies(caps Capabilities, proxies model.Proxies) error {
	for key, value := range proxies {
		switch key {
		case model.ProxyKeyNo:
			if !caps.HasFeature(FeatureNoProxy) {
				return errs.NewRequestError("\"no\" proxy key is not supported", nil)
			}
			continue
		case model.ProxyKeyAll:
			if !caps.HasFeature(FeatureAllProxy) {
				return errs.NewRequestError("\"all\" proxy key is not supported", nil)
			}
		}
		if value == "" || value == proxy.NoProxy {
			continue
		}
		scheme := proxy.Scheme(value)
		if !slices.Contains(caps.ProxySchemes, scheme) {
			return errs.NewRequestError(fmt.Sprintf("unsupported proxy type %q", scheme), nil)
		}
	}
	return nil
}

// effectiveProxies picks the proxies extension over the request's own map
// over the handler defaults. Each replaces the next as a whole.
func effectiveProxies(r *model.Request, defaults model.Proxies) (model.Proxies, error) {
	if p, ok, err := r.Extensions.Proxies(); err != nil {
		return nil, err
	} else if ok {
		return p, nil
	}
	if r.Proxies != nil {
		return r.Proxies, nil
	}
	return defaults, nil
}

// Call is a validated request with its per-request settings resolved.
type Call struct {
	*model.PreparedRequest

	Timeout   time.Duration
	Jar       http.CookieJar
	LegacySSL bool
	Proxies   model.Proxies
	// MaxRedirects is the number of redirects followed before giving up.
	MaxRedirects int
}

// NewCall validates r, prepares it and merges in the handler options.
func NewCall(caps Capabilities, opts Options, r *model.Request) (*Call, error) {
	if err := Check(caps, r); err != nil {
		return nil, err
	}
	pr, err := r.Prepare()
	if err != nil {
		return nil, errs.NewRequestError("invalid request", err)
	}
	c := &Call{
		PreparedRequest: pr,
		Timeout:         opts.Timeout,
		Jar:             opts.CookieJar,
		LegacySSL:       opts.LegacySSL,
		MaxRedirects:    opts.MaxRedirects,
	}
	// extensions were validated by Check
	if d, ok, _ := pr.Extensions.Timeout(); ok {
		c.Timeout = d
	}
	if j, ok, _ := pr.Extensions.CookieJar(); ok {
		c.Jar = j
	}
	if l, _ := pr.Extensions.LegacySSL(); l {
		c.LegacySSL = true
	}
	c.Proxies, _ = effectiveProxies(pr.Request, opts.Proxies)
	if err := checkProxies(caps, c.Proxies); err != nil {
		return nil, err
	}
	pr.Header = MergeHeaders(opts.Headers, pr.Header, caps.Encodings)
	return c, nil
}

// ProxyFor returns the normalised proxy for u, nil meaning direct.
func (c *Call) ProxyFor(u *url.URL) (*url.URL, error) {
	raw := proxy.Select(c.Proxies, u)
	if raw == "" {
		return nil, nil
	}
	p, err := proxy.Normalize(raw)
	if err != nil {
		return nil, &proxy.Error{Proxy: raw, Msg: "invalid proxy url", Err: err}
	}
	return p, nil
}

// MergeHeaders layers request headers over defaults, case insensitively.
// Accept-Encoding defaults to the supported encodings and Connection to
// keep-alive.
func MergeHeaders(defaults, request http.Header, encodings []string) http.Header {
	out := http.Header{}
	for k, v := range defaults {
		out[http.CanonicalHeaderKey(k)] = slices.Clone(v)
	}
	for k, v := range request {
		out[k] = slices.Clone(v)
	}
	if _, ok := out["Accept-Encoding"]; !ok && len(encodings) > 0 {
		out.Set("Accept-Encoding", strings.Join(encodings, ", "))
	}
	if _, ok := out["Connection"]; !ok {
		out.Set("Connection", "keep-alive")
	}
	return out
}

// DefaultCapabilities is what every built-in backend supports.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		URLSchemes:   []string{"http", "https"},
		ProxySchemes: []string{"http", "https", "socks4", "socks4a", "socks5", "socks5h"},
		Encodings:    slices.Clone(encoding.Supported),
		Features:     []Feature{FeatureNoProxy, FeatureAllProxy},
		Extensions:   []string{model.ExtTimeout, model.ExtCookieJar, model.ExtLegacySSL, model.ExtProxies},
	}
}
