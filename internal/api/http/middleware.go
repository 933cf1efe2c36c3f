package apihttp

import (
	"bufio"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"watchcompanion/internal/metrics"
)

// statusRecorder remembers what a handler wrote so the outer middleware can log
// it, and whether the connection was taken over by the relay.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	size     int
	wrote    bool
	hijacked bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.wrote = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wrote = true
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

// Hijack lets /relay upgrades pass through the chain.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("relay upgrade: response writer cannot be hijacked")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		rec.hijacked = true
		rec.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// corsMiddleware echoes the request origin when it is whitelisted. An empty
// whitelist allows any origin.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
			if len(set) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
		case len(set) == 0:
			w.Header().Set("Access-Control-Allow-Origin", origin)
		default:
			if _, ok := set[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware writes one line per request keyed by route, with the
// episode, bookmark, job or relay session the request is about.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		route, subject := routeOf(r.URL.Path)
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.size),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		attrs = append(attrs, subject...)
		if route == "/other" {
			attrs = append(attrs, slog.String("path", truncate(r.URL.Path, 120)))
		}
		if role := r.URL.Query().Get("role"); role != "" && route == "/relay/:session" {
			attrs = append(attrs, slog.String("role", truncate(role, 16)))
		}
		logger.LogAttrs(r.Context(), pickRequestLogLevel(r.Method, route, rec.status), "http request", attrs...)
	})
}

// recoveryMiddleware turns a handler panic into a 500 envelope. Nothing is
// written when the handler already answered or the relay owns the connection.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			route, subject := routeOf(r.URL.Path)
			metrics.HTTPPanicsTotal.WithLabelValues(route).Inc()
			attrs := append([]slog.Attr{
				slog.Any("panic", p),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Bool("hijacked", rec.hijacked),
				slog.String("stack", string(debug.Stack())),
			}, subject...)
			logger.LogAttrs(r.Context(), slog.LevelError, "handler panic", attrs...)
			if rec.hijacked || rec.wrote {
				return
			}
			writeError(rec, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		next.ServeHTTP(rec, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)
		if rec.hijacked {
			// relay connections are tracked by the relay gauge
			return
		}
		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func normalizeRoute(path string) string {
	route, _ := routeOf(path)
	return route
}

// routeOf maps a request path onto its route template and the identifier the
// path carries, as log attributes.
func routeOf(path string) (string, []slog.Attr) {
	id := func(prefix string) string { return truncate(strings.TrimPrefix(path, prefix), 64) }
	switch {
	case path == "/metrics" || path == "/health" || path == "/sniff" ||
		path == "/settings/player" || path == "/settings/token-rule":
		return path, nil
	case path == "/open/bookmarks" || path == "/open/resume":
		return path, nil
	case strings.HasPrefix(path, "/open/bookmarks/"):
		return "/open/bookmarks/:id", []slog.Attr{slog.String("openRequestId", id("/open/bookmarks/"))}
	case strings.HasPrefix(path, "/open/resume/"):
		return "/open/resume/:id", []slog.Attr{slog.String("openRequestId", id("/open/resume/"))}
	case path == "/resume" || path == "/resume/import":
		return path, nil
	case strings.HasPrefix(path, "/resume/"):
		return "/resume/:episodeId", []slog.Attr{slog.String("episodeId", id("/resume/"))}
	case path == "/bookmarks":
		return path, nil
	case strings.HasPrefix(path, "/bookmarks/"):
		return "/bookmarks/:id", []slog.Attr{slog.String("bookmarkId", id("/bookmarks/"))}
	case path == "/downloads":
		return path, nil
	case strings.HasPrefix(path, "/downloads/") && strings.HasSuffix(path, "/retry"):
		jobID := strings.TrimSuffix(strings.TrimPrefix(path, "/downloads/"), "/retry")
		return "/downloads/:id/retry", []slog.Attr{slog.String("jobId", truncate(jobID, 64))}
	case strings.HasPrefix(path, "/downloads/"):
		return "/downloads/:id", []slog.Attr{slog.String("jobId", id("/downloads/"))}
	case strings.HasPrefix(path, "/relay/"):
		return "/relay/:session", []slog.Attr{slog.String("session", id("/relay/"))}
	default:
		return "/other", nil
	}
}

// pickRequestLogLevel keeps the background poller's reads out of info logs:
// the open-request queues and job status are fetched on every tab.
func pickRequestLogLevel(method, route string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400 && status != http.StatusNotFound:
		return slog.LevelWarn
	case route == "/health" || route == "/metrics":
		return slog.LevelDebug
	case method == http.MethodGet && (strings.HasPrefix(route, "/open/") || route == "/downloads/:id"):
		return slog.LevelDebug
	case status == http.StatusNotFound:
		// a missing checkpoint or bookmark is an ordinary answer
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

// rateLimitMiddleware puts the RPC routes behind one token bucket. Health,
// metrics and relay upgrades bypass it; rejected calls get 429 with the wait
// until the next token in Retry-After.
func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/relay/") {
			next.ServeHTTP(w, r)
			return
		}
		res := limiter.Reserve()
		if res.OK() && res.Delay() == 0 {
			next.ServeHTTP(w, r)
			return
		}
		retryAfter := 1
		if res.OK() {
			retryAfter = max(1, int(math.Ceil(res.Delay().Seconds())))
			res.Cancel()
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		metrics.HTTPRateLimitedTotal.WithLabelValues(normalizeRoute(r.URL.Path)).Inc()
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	})
}
