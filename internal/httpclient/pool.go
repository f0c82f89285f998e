// Package httpclient implements the C2 HTTP client pool (spec.md §4.2):
// a process-wide cache of *http.Client keyed by (proxyURL, timeoutMs),
// generalised from a single static transport to support a per-client
// upstream proxy and a swappable global default.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 20
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 10 * time.Second
)

type clientKey struct {
	proxyURL  string
	timeoutMs int64
}

// Pool maintains http.Client instances keyed by (proxyURL, timeoutMs) so
// concurrent requests to the same upstream share connection pools and
// keepalives rather than dialing fresh per request.
type Pool struct {
	mu      sync.RWMutex
	clients map[clientKey]*http.Client

	currentProxy atomic.Pointer[string]
}

// NewPool constructs an empty client pool with no upstream proxy applied.
func NewPool() *Pool {
	return &Pool{clients: make(map[clientKey]*http.Client)}
}

// Do satisfies proxyserver.Dispatcher structurally, letting a Pool stand in
// directly as the data-plane's outbound transport. The request's own
// context deadline (set by the caller from the provider's timeout_ms)
// governs the round trip, so no client-side timeout is applied here.
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	return p.GetClient(0).Do(req)
}

// GetClient returns the client for the currently applied proxy URL and the
// given timeout, creating and caching one if needed.
func (p *Pool) GetClient(timeoutMs int64) *http.Client {
	proxy := ""
	if ptr := p.currentProxy.Load(); ptr != nil {
		proxy = *ptr
	}
	return p.getClientFor(proxy, timeoutMs)
}

func (p *Pool) getClientFor(proxyURL string, timeoutMs int64) *http.Client {
	key := clientKey{proxyURL: proxyURL, timeoutMs: timeoutMs}

	p.mu.RLock()
	c, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c
	}

	c = newClient(proxyURL, timeoutMs)
	p.clients[key] = c
	return c
}

// ApplyProxy atomically swaps the pool's current upstream proxy URL.
// Already-issued clients built under the old proxy remain usable until this
// Pool is dropped; only subsequent GetClient calls see the new value.
func (p *Pool) ApplyProxy(proxyURL string) error {
	if err := ValidateProxy(proxyURL); err != nil {
		return err
	}
	v := proxyURL
	p.currentProxy.Store(&v)
	return nil
}

// ErrInvalidScheme is returned by ValidateProxy for an unsupported scheme.
type ErrInvalidScheme struct{ Scheme string }

func (e *ErrInvalidScheme) Error() string { return fmt.Sprintf("invalid proxy scheme %q", e.Scheme) }

// ErrInvalidHostPort is returned by ValidateProxy for a malformed host/port.
type ErrInvalidHostPort struct{ Value string }

func (e *ErrInvalidHostPort) Error() string { return fmt.Sprintf("invalid proxy host/port %q", e.Value) }

var allowedProxySchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// ValidateProxy accepts an empty string (no proxy) or a URL with scheme
// http/https/socks5/socks5h and a non-empty host.
func ValidateProxy(proxyURL string) error {
	if proxyURL == "" {
		return nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return &ErrInvalidHostPort{Value: proxyURL}
	}
	if !allowedProxySchemes[u.Scheme] {
		return &ErrInvalidScheme{Scheme: u.Scheme}
	}
	if u.Hostname() == "" {
		return &ErrInvalidHostPort{Value: proxyURL}
	}
	return nil
}

func newClient(proxyURL string, timeoutMs int64) *http.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: defaultDialTimeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return conn, nil
		},
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
	}

	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	client := &http.Client{Transport: transport}
	if timeoutMs > 0 {
		client.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return client
}
