package api

import (
    "bufio"
    "fmt"
    "net"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    log "github.com/sirupsen/logrus"
    "golang.org/x/time/rate"

    "wasteroute/internal/metrics"
)

// statusRecorder captures the status code and size written by a handler.
type statusRecorder struct {
    http.ResponseWriter
    status int
    bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
    if r.status == 0 { r.status = http.StatusOK }
    n, err := r.ResponseWriter.Write(b)
    r.bytes += n
    return n, err
}

// Flush keeps SSE working through the middleware chain.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, fmt.Errorf("response writer does not support hijacking") }
    if r.status == 0 { r.status = http.StatusSwitchingProtocols }
    return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// metricPath collapses numeric ids so the label set stays small.
func metricPath(p string) string {
    parts := strings.Split(p, "/")
    for i, s := range parts {
        if _, err := strconv.ParseInt(s, 10, 64); err == nil { parts[i] = ":id" }
    }
    return strings.Join(parts, "/")
}

// LogMiddleware writes one access log line per request and records request metrics.
func LogMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w}
        defer func() {
            if v := recover(); v != nil {
                log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path, "panic": v}).Error("handler panic")
                if rec.status == 0 { writeProblem(rec, http.StatusInternalServerError, "Internal Server Error", "unexpected error", r.URL.Path) }
            }
            if rec.status == 0 { rec.status = http.StatusOK }
            dur := time.Since(start)
            code := strconv.Itoa(rec.status)
            path := metricPath(r.URL.Path)
            metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
            metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
            log.WithFields(log.Fields{
                "remote":   r.RemoteAddr,
                "method":   r.Method,
                "path":     r.URL.Path,
                "status":   rec.status,
                "bytes":    rec.bytes,
                "duration": dur.String(),
            }).Info("request")
        }()
        next.ServeHTTP(rec, r)
    })
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
    rps   rate.Limit
    burst int
    mu    sync.Mutex
    seen  map[string]*clientLimiter
}

type clientLimiter struct {
    lim  *rate.Limiter
    last time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
    if burst < 1 { burst = 1 }
    return &RateLimiter{rps: rate.Limit(rps), burst: burst, seen: map[string]*clientLimiter{}}
}

func (l *RateLimiter) allow(key string, now time.Time) bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    c := l.seen[key]
    if c == nil {
        c = &clientLimiter{lim: rate.NewLimiter(l.rps, l.burst)}
        l.seen[key] = c
    }
    c.last = now
    // drop buckets idle for more than ten minutes
    if len(l.seen) > 1024 {
        for k, v := range l.seen {
            if now.Sub(v.last) > 10*time.Minute { delete(l.seen, k) }
        }
    }
    return c.lim.AllowN(now, 1)
}

// Middleware answers 429 once a client exceeds its budget. Health and
// metrics endpoints are never limited.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        switch r.URL.Path {
        case "/healthz", "/readyz", "/metrics":
            next.ServeHTTP(w, r)
            return
        }
        if !l.allow(clientKey(r), time.Now()) {
            metrics.RateLimited.Inc()
            w.Header().Set("Retry-After", "1")
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}

func clientKey(r *http.Request) string {
    host, _, err := net.SplitHostPort(r.RemoteAddr)
    if err != nil { return r.RemoteAddr }
    return host
}

// CORSMiddleware allows the configured origins; "*" allows any.
func CORSMiddleware(origins []string, next http.Handler) http.Handler {
    allowed := map[string]bool{}
    for _, o := range origins { allowed[o] = true }
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        origin := r.Header.Get("Origin")
        if origin != "" && (allowed["*"] || allowed[origin]) {
            w.Header().Set("Access-Control-Allow-Origin", origin)
            w.Header().Set("Access-Control-Allow-Credentials", "true")
            w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-Id, X-Role")
            w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
            w.Header().Add("Vary", "Origin")
            if r.Method == http.MethodOptions {
                w.WriteHeader(http.StatusNoContent)
                return
            }
        }
        next.ServeHTTP(w, r)
    })
}
