// Package traffic proxies HTTP requests to local services and records each
// completed request with the stats aggregator.
package traffic

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"undocked"
	"undocked/internal/check"
	"undocked/node/stats"
)

// PathPrefix is where the proxy is mounted.
const PathPrefix = "/v1/proxy/"

type ServiceResolver interface {
	Get(id string) (undocked.Service, bool)
}

type ProfileResolver interface {
	Get(name string) (undocked.ServiceProfile, bool)
}

type Recorder interface {
	Record(id string, ev stats.Event) bool
	ConnOpened(id string) bool
	ConnClosed(id string)
}

// Meter is an http.Handler serving PathPrefix + "{serviceID}/...". Requests
// are forwarded to the service's host port on the loopback interface.
type Meter struct {
	services ServiceResolver
	profiles ProfileResolver
	stats    Recorder
	host     string
	log      *slog.Logger

	transport http.RoundTripper

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	banned   map[string]struct{}
}

type Option func(*Meter)

// WithUpstreamHost overrides the host services are reached on.
func WithUpstreamHost(host string) Option {
	return func(m *Meter) { m.host = host }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(m *Meter) { m.transport = rt }
}

func New(services ServiceResolver, profiles ProfileResolver, rec Recorder, opts ...Option) *Meter {
	check.Assert(services != nil && rec != nil, "traffic.New: services and recorder are required")
	m := &Meter{
		services: services,
		profiles: profiles,
		stats:    rec,
		host:     "127.0.0.1",
		log:      slog.With("component", "traffic"),
		limiters: make(map[string]*rate.Limiter),
		banned:   make(map[string]struct{}),
		transport: &http.Transport{
			Proxy:               nil,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Meter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, PathPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, path, _ := strings.Cut(rest, "/")
	m.Serve(w, r, id, "/"+path)
}

// Serve forwards r to service id, rewriting the request path to path.
func (m *Meter) Serve(w http.ResponseWriter, r *http.Request, id, path string) {
	svc, ok := m.services.Get(id)
	if !ok {
		http.Error(w, fmt.Sprintf("service %q not found", id), http.StatusNotFound)
		return
	}
	if svc.Status != undocked.StatusRunning {
		http.Error(w, fmt.Sprintf("service %q is %s", id, svc.Status), http.StatusServiceUnavailable)
		return
	}
	if !m.exposed(svc) {
		http.Error(w, fmt.Sprintf("service %q does not expose HTTP", id), http.StatusForbidden)
		return
	}
	if m.Banned(r.RemoteAddr) {
		cw := &countingWriter{ResponseWriter: w}
		http.Error(cw, "client address is banned", http.StatusForbidden)
		m.stats.Record(id, stats.Event{Bytes: cw.n, IsError: true})
		return
	}
	if !m.stats.ConnOpened(id) {
		http.Error(w, fmt.Sprintf("service %q not found", id), http.StatusNotFound)
		return
	}
	defer m.stats.ConnClosed(id)

	body := &countingReader{r: r.Body}
	if r.Body != nil && r.Body != http.NoBody {
		r.Body = body
	}
	cw := &countingWriter{ResponseWriter: w, status: http.StatusOK}

	if lim := m.limiter(svc); lim != nil && !lim.Allow() {
		http.Error(cw, "rate limit exceeded", http.StatusTooManyRequests)
		m.stats.Record(id, stats.Event{Bytes: body.n + cw.n, IsError: true})
		return
	}

	var upstreamErr error
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(&url.URL{Scheme: "http", Host: net.JoinHostPort(m.host, svc.HostPort)})
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
		},
		Transport: m.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			upstreamErr = err
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	proxy.ServeHTTP(cw, r)

	isError := upstreamErr != nil || cw.status >= 500
	if upstreamErr != nil && !errors.Is(upstreamErr, r.Context().Err()) {
		m.log.Debug("Upstream request failed.", "service", id, "err", upstreamErr)
	}
	m.stats.Record(id, stats.Event{Bytes: body.n + cw.n, IsError: isError})
}

// exposed reports whether svc may be reached through the proxy. Raw image
// services always are; profile services only when the profile says so.
func (m *Meter) exposed(svc undocked.Service) bool {
	if svc.Profile == "" {
		return true
	}
	if m.profiles == nil {
		return false
	}
	profile, ok := m.profiles.Get(svc.Profile)
	return ok && profile.ExposeHTTP
}

// Ban refuses further proxied requests from the client host of addr. addr
// may carry a port, which is ignored.
func (m *Meter) Ban(addr string) error {
	host := clientHost(addr)
	if host == "" {
		return fmt.Errorf("ban %q: %w: address is empty", addr, undocked.ErrInvalidArgument)
	}
	m.mu.Lock()
	m.banned[host] = struct{}{}
	m.mu.Unlock()
	m.log.Info("Client banned.", "addr", host)
	return nil
}

// Banned reports whether the client host of addr is banned.
func (m *Meter) Banned(addr string) bool {
	host := clientHost(addr)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.banned[host]
	return ok
}

// BannedAddrs returns the banned client hosts sorted.
func (m *Meter) BannedAddrs() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.banned))
	for host := range m.banned {
		out = append(out, host)
	}
	m.mu.Unlock()
	slices.Sort(out)
	return out
}

func clientHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return addr
}

// limiter returns the per-service limiter derived from the service's
// profile, or nil when the service is unlimited.
func (m *Meter) limiter(svc undocked.Service) *rate.Limiter {
	if m.profiles == nil || svc.Profile == "" {
		return nil
	}
	profile, ok := m.profiles.Get(svc.Profile)
	if !ok || profile.RateLimitPerMin <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[svc.ServiceID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(profile.RateLimitPerMin)), profile.RateLimitPerMin)
		m.limiters[svc.ServiceID] = lim
	}
	return lim
}

// Forget drops per-service limiter state.
func (m *Meter) Forget(id string) {
	m.mu.Lock()
	delete(m.limiters, id)
	m.mu.Unlock()
}

type countingReader struct {
	r io.ReadCloser
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) Close() error { return c.r.Close() }

type countingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	n           int64
}

func (c *countingWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.wroteHeader = true
	n, err := c.ResponseWriter.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *countingWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }
