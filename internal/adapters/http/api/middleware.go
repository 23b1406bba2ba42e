package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/okian/scoreboard/pkg/metrics"
)

const (
	visitorIdle    = 3 * time.Minute
	cleanupEvery   = time.Minute
	unmatchedRoute = "unmatched"
)

// MetricsMiddleware records request counts and latencies per route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		endpoint := unmatchedRoute
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			endpoint = rc.RoutePattern()
		}
		code := strconv.Itoa(status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, metrics.Since(start))
		if status >= http.StatusInternalServerError {
			metrics.RecordErrorByComponent("http", errorType(status))
		}
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return "server_error"
	}
}

// TimeoutMiddleware attaches a deadline to the request context. Handlers
// observe it through the service calls they make.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	rps         rate.Limit
	burst       int
	clock       func() time.Time
	lastCleanup time.Time
}

func newRateLimiter(rps float64, burst int, clock func() time.Time) *rateLimiter {
	if clock == nil {
		clock = time.Now
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		clock:    clock,
	}
}

func (rl *rateLimiter) enabled() bool { return rl.rps > 0 }

func (rl *rateLimiter) allow(key string) bool {
	now := rl.clock()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > cleanupEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(rl.visitors, k)
			}
		}
		rl.lastCleanup = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Middleware rejects requests from clients over their budget with 429.
func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.allow(clientKey(r)) {
			metrics.RecordRateLimited(r.URL.Path)
			w.Header().Set("Retry-After", "1")
			status, code := statusFor(ErrRateLimited)
			writeJSON(w, status, errorResponse{Code: code, Message: ErrRateLimited.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller. RealIP has already folded proxy headers
// into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
