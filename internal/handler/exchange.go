package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frankli0324/go-networking/internal/encoding"
	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/model"
)

// Hop is one response as produced by a backend, before redirects, cookies
// or content decoding are handled.
type Hop struct {
	Status int
	Reason string
	Header http.Header
	Body   io.ReadCloser
	// ContentLength is the length of Body on the wire, -1 when unknown.
	ContentLength int64
}

// RoundTripFunc performs exactly one request without following redirects.
// ctx stays alive until the body of the returned Hop is closed.
type RoundTripFunc func(ctx context.Context, r *model.PreparedRequest) (*Hop, error)

// drainLimit bounds how much of a redirect body is read to keep its
// connection reusable.
const drainLimit = 64 << 10

// Exchange performs c with rt, following redirects and maintaining the
// cookie store. The returned Response owns the final body.
func Exchange(ctx context.Context, c *Call, logger *slog.Logger, rt RoundTripFunc) (*model.Response, error) {
	ctx, wd := NewWatchdog(ctx, c.Timeout)
	req := c.PreparedRequest
	for redirects := 0; ; redirects++ {
		hop, err := rt(ctx, withCookies(req, c.Jar))
		if err != nil {
			wd.Stop()
			return nil, wd.Translate(err)
		}
		wd.Kick()
		if c.Jar != nil {
			if cookies := (&http.Response{Header: hop.Header}).Cookies(); len(cookies) > 0 {
				c.Jar.SetCookies(req.U, cookies)
			}
		}

		location := hop.Header.Get("Location")
		if !IsRedirect(hop.Status) || location == "" {
			// the caller decides when to read, the body reads arm it again
			wd.Pause()
			resp := newResponse(hop, req, wd)
			if hop.Status < 200 || hop.Status >= 300 {
				return nil, errs.NewHTTPError(resp, false)
			}
			return resp, nil
		}
		if redirects >= c.MaxRedirects {
			logger.Debug("redirect limit reached", "url", req.U.Redacted(), "limit", c.MaxRedirects)
			wd.Pause()
			return nil, errs.NewHTTPError(newResponse(hop, req, wd), true)
		}
		next, err := NextHop(req, hop.Status, location)
		io.CopyN(io.Discard, hop.Body, drainLimit)
		hop.Body.Close()
		if err != nil {
			wd.Stop()
			return nil, err
		}
		wd.Kick()
		logger.Debug("following redirect", "status", hop.Status, "from", req.U.Redacted(), "to", next.U.Redacted(), "method", next.Method)
		req = next
	}
}

func newResponse(hop *Hop, req *model.PreparedRequest, wd *Watchdog) *model.Response {
	expected := hop.ContentLength
	if req.Method == http.MethodHead || hop.Status == http.StatusNoContent ||
		hop.Status == http.StatusNotModified || hop.Status/100 == 1 {
		expected = -1
	}
	tracked := &body{
		Reader: &lengthReader{r: hop.Body, expected: expected},
		close:  hop.Body.Close,
	}
	decoded := encoding.Decode(tracked, hop.Header.Get("Content-Encoding"))
	b := &body{
		Reader: &activityReader{r: decoded, wd: wd},
		close: func() error {
			defer wd.Stop()
			return decoded.Close()
		},
	}
	return model.NewResponse(hop.Status, hop.Reason, req.U.String(), hop.Header, b, wd.Translate)
}

func withCookies(r *model.PreparedRequest, jar http.CookieJar) *model.PreparedRequest {
	if jar == nil {
		return r
	}
	cookies := jar.Cookies(r.U)
	if len(cookies) == 0 {
		return r
	}
	parts := make([]string, 0, len(cookies)+1)
	if v := r.Header.Get("Cookie"); v != "" {
		parts = append(parts, v)
	}
	for _, ck := range cookies {
		parts = append(parts, (&http.Cookie{Name: ck.Name, Value: ck.Value}).String())
	}
	cp := *r
	cp.Header = r.Header.Clone()
	cp.Header.Set("Cookie", strings.Join(parts, "; "))
	return &cp
}
