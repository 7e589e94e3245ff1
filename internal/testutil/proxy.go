// Package testutil runs in-process proxies for handler and dialer tests.
package testutil

import (
	"bufio"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Seen is one request as received by a fake proxy.
type Seen struct {
	Method string
	// Target is the address asked for, a domain name when the client left
	// resolution to the proxy.
	Target string
	Auth   string
}

type recorder struct {
	mu   sync.Mutex
	seen []Seen
}

func (r *recorder) record(s Seen) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
}

// Seen returns everything received so far.
func (r *recorder) Seen() []Seen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Seen(nil), r.seen...)
}

// SOCKSServer speaks SOCKS4, 4a and 5, without authentication or with
// username/password when User is set.
type SOCKSServer struct {
	recorder
	Addr string
	// User and Password are required from SOCKS5 clients when User is set.
	User, Password string
	// Reject answers every SOCKS request with a failure code.
	Reject bool

	ln net.Listener
}

func StartSOCKS(t testing.TB) *SOCKSServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &SOCKSServer{Addr: ln.Addr().String(), ln: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *SOCKSServer) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := s.handle(c); err != nil {
				c.Close()
			}
		}()
	}
}

func (s *SOCKSServer) handle(c net.Conn) error {
	br := bufio.NewReader(c)
	ver, err := br.ReadByte()
	if err != nil {
		return err
	}
	switch ver {
	case 4:
		return s.handle4(c, br)
	case 5:
		return s.handle5(c, br)
	}
	return errors.New("unknown SOCKS version")
}

func (s *SOCKSServer) handle4(c net.Conn, br *bufio.Reader) error {
	var hdr [7]byte // cmd, port, ip
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return err
	}
	user, err := br.ReadString(0)
	if err != nil {
		return err
	}
	port := binary.BigEndian.Uint16(hdr[1:3])
	ip := net.IP(hdr[3:7])
	host := ip.String()
	if ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0 {
		domain, err := br.ReadString(0)
		if err != nil {
			return err
		}
		host = domain[:len(domain)-1]
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(port)))
	s.record(Seen{Method: "SOCKS4", Target: target, Auth: user[:len(user)-1]})

	if s.Reject {
		c.Write([]byte{0, 91, 0, 0, 0, 0, 0, 0})
		return errors.New("rejected")
	}
	upstream, err := net.Dial("tcp", target)
	if err != nil {
		c.Write([]byte{0, 91, 0, 0, 0, 0, 0, 0})
		return err
	}
	if _, err := c.Write([]byte{0, 90, 0, 0, 0, 0, 0, 0}); err != nil {
		upstream.Close()
		return err
	}
	pipe(&bufferedConn{c, br}, upstream)
	return nil
}

func (s *SOCKSServer) handle5(c net.Conn, br *bufio.Reader) error {
	n, err := br.ReadByte()
	if err != nil {
		return err
	}
	methods := make([]byte, n)
	if _, err := io.ReadFull(br, methods); err != nil {
		return err
	}
	auth := ""
	if s.User != "" {
		c.Write([]byte{5, 2})
		if auth, err = s.userPass(c, br); err != nil {
			return err
		}
	} else if _, err := c.Write([]byte{5, 0}); err != nil {
		return err
	}

	var req [4]byte // ver, cmd, rsv, atyp
	if _, err := io.ReadFull(br, req[:]); err != nil {
		return err
	}
	var host string
	switch req[3] {
	case 1:
		ip := make(net.IP, 4)
		if _, err := io.ReadFull(br, ip); err != nil {
			return err
		}
		host = ip.String()
	case 4:
		ip := make(net.IP, 16)
		if _, err := io.ReadFull(br, ip); err != nil {
			return err
		}
		host = ip.String()
	case 3:
		l, err := br.ReadByte()
		if err != nil {
			return err
		}
		b := make([]byte, l)
		if _, err := io.ReadFull(br, b); err != nil {
			return err
		}
		host = string(b)
	default:
		return errors.New("bad address type")
	}
	var portBuf [2]byte
	if _, err := io.ReadFull(br, portBuf[:]); err != nil {
		return err
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(portBuf[:]))))
	s.record(Seen{Method: "SOCKS5", Target: target, Auth: auth})

	fail := []byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0} // connection refused
	if s.Reject {
		c.Write(fail)
		return errors.New("rejected")
	}
	if host == "localhost" {
		target = net.JoinHostPort("127.0.0.1", strconv.Itoa(int(binary.BigEndian.Uint16(portBuf[:]))))
	}
	upstream, err := net.Dial("tcp", target)
	if err != nil {
		c.Write(fail)
		return err
	}
	if _, err := c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		upstream.Close()
		return err
	}
	pipe(&bufferedConn{c, br}, upstream)
	return nil
}

func (s *SOCKSServer) userPass(c net.Conn, br *bufio.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return "", err
	}
	user := make([]byte, hdr[1])
	if _, err := io.ReadFull(br, user); err != nil {
		return "", err
	}
	l, err := br.ReadByte()
	if err != nil {
		return "", err
	}
	pass := make([]byte, l)
	if _, err := io.ReadFull(br, pass); err != nil {
		return "", err
	}
	if string(user) != s.User || string(pass) != s.Password {
		c.Write([]byte{1, 1})
		return "", errors.New("bad credentials")
	}
	_, err = c.Write([]byte{1, 0})
	return string(user) + ":" + string(pass), err
}

// HTTPProxy tunnels CONNECT requests and forwards absolute-form requests.
type HTTPProxy struct {
	recorder
	Addr string
	// Refuse answers CONNECT with this status when not zero.
	Refuse int

	srv *http.Server
	ln  net.Listener
}

func StartHTTPProxy(t testing.TB) *HTTPProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := &HTTPProxy{Addr: ln.Addr().String(), ln: ln}
	p.srv = &http.Server{Handler: p}
	go p.srv.Serve(ln)
	t.Cleanup(func() { p.srv.Close() })
	return p
}

// StartHTTPSProxy is StartHTTPProxy speaking TLS to its clients. The
// returned pool trusts its certificate, which is valid for 127.0.0.1.
func StartHTTPSProxy(t testing.TB) (*HTTPProxy, *x509.CertPool) {
	t.Helper()
	p := &HTTPProxy{}
	srv := httptest.NewUnstartedServer(p)
	srv.StartTLS()
	t.Cleanup(srv.Close)
	p.Addr = srv.Listener.Addr().String()
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return p, pool
}

func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.record(Seen{Method: r.Method, Target: r.Host, Auth: r.Header.Get("Proxy-Authorization")})
	if r.Method != http.MethodConnect {
		p.forward(w, r)
		return
	}
	if p.Refuse != 0 {
		http.Error(w, "go away", p.Refuse)
		return
	}
	upstream, err := net.Dial("tcp", r.Host)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	c, brw, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		return
	}
	if _, err := c.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		c.Close()
		upstream.Close()
		return
	}
	pipe(&bufferedConn{c, brw.Reader}, upstream)
}

func (p *HTTPProxy) forward(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.Header.Del("Proxy-Authorization")
	resp, err := http.DefaultTransport.RoundTrip(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func pipe(a, b net.Conn) {
	var once sync.Once
	closeBoth := func() {
		a.Close()
		b.Close()
	}
	go func() {
		io.Copy(b, a)
		once.Do(closeBoth)
	}()
	go func() {
		io.Copy(a, b)
		once.Do(closeBoth)
	}()
}
