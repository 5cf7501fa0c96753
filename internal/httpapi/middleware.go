package httpapi

import (
	"compress/gzip"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// streaming routes hold the response open and must not be compressed.
var streaming = map[string]bool{"/stream": true, "/ws": true}

// wrap applies CORS, per-IP rate limiting, gzip and request metrics to a route.
func (s *Server) wrap(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		ip := remoteIP(r)
		defer func() {
			s.metrics.ObserveRequest(route, r.Method, sw.Status(), time.Since(start))
			slog.Debug("httpapi: request",
				"route", route, "method", r.Method, "status", sw.Status(),
				"bytes", sw.written, "remote", ip, "dur", time.Since(start))
		}()

		origin := r.Header.Get("Origin")
		if origin != "" && s.cors != nil {
			if !s.cors.allows(origin) {
				http.Error(sw, "origin not allowed", http.StatusForbidden)
				return
			}
			s.cors.annotate(sw.Header(), origin)
			if r.Method == http.MethodOptions {
				s.cors.preflight(sw, r)
				return
			}
		}

		if !s.limiter.admit(ip) {
			s.metrics.IncRateLimited()
			sw.Header().Set("Retry-After", "1")
			http.Error(sw, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead:
		default:
			sw.Header().Set("Allow", "GET, HEAD")
			http.Error(sw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if !streaming[route] && acceptsGzip(r) {
			gz := gzip.NewWriter(sw.ResponseWriter)
			defer gz.Close()
			sw.Header().Set("Content-Encoding", "gzip")
			sw.Header().Add("Vary", "Accept-Encoding")
			sw.ResponseWriter = &gzipWriter{ResponseWriter: sw.ResponseWriter, gz: gz}
		}
		next(sw, r)
	}
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") && r.Header.Get("Upgrade") == ""
}

// statusWriter records the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Flush lets SSE handlers push frames through the wrapper.
func (w *statusWriter) Flush() {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type gzipWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

func (g *gzipWriter) Flush() {
	_ = g.gz.Flush()
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// baseWriter returns the connection's own writer. WebSocket upgrades need its
// http.Hijacker.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if sw, ok := w.(*statusWriter); ok && sw.ResponseWriter != nil {
		return sw.ResponseWriter
	}
	return w
}

// visitorLimiter keeps one token bucket per remote IP. Live tail clients
// connect once and stay, so the limit applies to connection attempts and to
// polling of /info and /metrics.
type visitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	swept    time.Time
}

type visitor struct {
	bucket *rate.Limiter
	seen   time.Time
}

// newVisitorLimiter returns nil, which admits everyone, when rps or burst is
// not positive.
func newVisitorLimiter(rps, burst int) *visitorLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &visitorLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     5 * time.Minute,
	}
}

func (l *visitorLimiter) admit(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.visitors[ip]
	if v == nil {
		v = &visitor{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now

	if now.Sub(l.swept) > l.idle {
		for key, other := range l.visitors {
			if now.Sub(other.seen) > l.idle {
				delete(l.visitors, key)
			}
		}
		l.swept = now
	}
	return v.bucket.AllowN(now, 1)
}

// remoteIP prefers the first X-Forwarded-For hop.
func remoteIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// originPolicy is the CORS allow-list. A "*" entry allows any http(s) origin.
type originPolicy struct {
	any     bool
	allowed map[string]bool
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]bool)}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[o] = true
		}
	}
	if !p.any && len(p.allowed) == 0 {
		return nil
	}
	return p
}

func (p *originPolicy) allows(origin string) bool {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	return p.any || p.allowed[origin]
}

func (p *originPolicy) annotate(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
}

func (p *originPolicy) preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
		w.Header().Set("Access-Control-Allow-Headers", headers)
	}
	w.Header().Set("Access-Control-Max-Age", "300")
	w.WriteHeader(http.StatusNoContent)
}
