package handler

import (
	"fmt"
	"net/http"

	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/model"
)

func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// RedirectMethod is the method used to follow a redirect: 303 turns
// everything but HEAD into GET, 301 and 302 turn POST into GET.
func RedirectMethod(status int, method string) string {
	switch status {
	case http.StatusSeeOther:
		if method != http.MethodHead {
			return http.MethodGet
		}
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			return http.MethodGet
		}
	}
	return method
}

// NextHop derives the request following a redirect to location. The body
// is dropped whenever the method changes.
func NextHop(r *model.PreparedRequest, status int, location string) (*model.PreparedRequest, error) {
	loc, err := r.U.Parse(model.NormalizeURL(location))
	if err != nil {
		return nil, errs.NewRequestError("malformed redirect location", err)
	}
	loc.Fragment, loc.RawFragment = "", ""
	if loc.Scheme != "http" && loc.Scheme != "https" {
		return nil, errs.NewRequestError(fmt.Sprintf("redirect to unsupported scheme %q", loc.Scheme), nil)
	}
	method := RedirectMethod(status, r.Method)
	return r.Redirected(loc, method, method != r.Method), nil
}
