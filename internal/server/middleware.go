package server

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"techclinic/internal/response"
	"techclinic/internal/session"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// GzipResponseWriter wraps http.ResponseWriter to support gzip compression.
type GzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w GzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

// GzipMiddleware compresses responses when the client supports gzip.
// WebSocket upgrades pass through untouched so the connection can be
// hijacked.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
			r.Header.Get("Range") != "" ||
			strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		next.ServeHTTP(GzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	})
}

// RequestID keeps an incoming X-Request-ID or assigns a fresh one, and
// echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r.Header.Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request with status, size and duration.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", r.Header.Get(RequestIDHeader)),
			}
			if status >= 500 {
				logger.Error("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

// SecurityHeaders adds security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// RequireSession resolves the session cookie, slides its expiry and puts
// the session in the request context.
func RequireSession(store *session.Store, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(session.CookieName)
			if err != nil {
				response.ErrCode(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}

			sess, err := store.Lookup(r.Context(), cookie.Value)
			switch {
			case errors.Is(err, session.ErrExpired):
				response.ErrCode(w, "Session expired due to inactivity", "SESSION_TIMEOUT", http.StatusUnauthorized)
				return
			case err != nil:
				response.ErrCode(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     session.CookieName,
				Value:    cookie.Value,
				Path:     "/",
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
				Expires:  sess.ExpiresAt,
			})
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		})
	}
}

// RequireJSON rejects state-changing requests that are not declared as
// JSON. Browsers cannot send such requests cross-site without a CORS
// preflight, which this server never grants.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			response.ErrCode(w, "Content-Type must be application/json", "UNSUPPORTED_MEDIA_TYPE", http.StatusUnsupportedMediaType)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter tracks request rates per key.
type RateLimiter struct {
	LoginLimit int
	APILimit   int
	Window     time.Duration

	requests map[string][]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimiter allows 5 logins and 100 API calls per minute per client.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		LoginLimit: 5,
		APILimit:   100,
		Window:     time.Minute,
		requests:   make(map[string][]time.Time),
		now:        time.Now,
	}
}

// Reset clears all rate limit state.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	rl.requests = make(map[string][]time.Time)
	rl.mu.Unlock()
}

func (rl *RateLimiter) prune(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(rl.requests, key)
		return nil
	}
	rl.requests[key] = kept
	return kept
}

// CheckRateLimit records a hit for key and reports whether the limit is
// exceeded, the remaining allowance and when the window resets.
func (rl *RateLimiter) CheckRateLimit(key string, limit int, window time.Duration) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := rl.prune(key, now, window)

	reset := now.Add(window)
	if len(hits) > 0 {
		reset = hits[0].Add(window)
	}
	if len(hits) >= limit {
		return true, 0, reset
	}
	rl.requests[key] = append(hits, now)
	return false, limit - len(hits) - 1, reset
}

func clientIP(r *http.Request) string {
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimitMiddleware limits logins and API calls per client address.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			var limit int
			var key string
			switch {
			case r.URL.Path == "/auth/login":
				limit, key = rl.LoginLimit, "login:"+ip
			case strings.HasPrefix(r.URL.Path, "/api/"):
				limit, key = rl.APILimit, "api:"+ip
			default:
				next.ServeHTTP(w, r)
				return
			}

			exceeded, remaining, reset := rl.CheckRateLimit(key, limit, rl.Window)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))

			if exceeded {
				retry := int(reset.Sub(rl.now()).Seconds()) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
				response.ErrCode(w, "Rate limit exceeded", "RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
