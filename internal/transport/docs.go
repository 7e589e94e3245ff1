// Package transport frames HTTP/1.1 messages on a connection the caller
// already owns. It knows nothing about pooling, proxies or redirects.
//
// Message syntax follows RFC 9112. Header and URL types come from net/http
// and net/url. HTTP/2 is not spoken here; the std backend gets it from
// golang.org/x/net/http2.
package transport
