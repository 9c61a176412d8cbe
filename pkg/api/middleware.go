package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/herald/pkg/limiter"
)

// requestIDHeader carries the per-request correlation id. Inbound values are
// trusted (a proxy may have assigned one); absent ones are minted here.
const requestIDHeader = "X-Request-ID"

// Middleware is a standard handler wrapper.
type Middleware func(http.Handler) http.Handler

// Chain applies mw left to right, so the first middleware is the outermost.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// RequestID ensures every request and response carries an X-Request-ID, so
// log lines and problem documents can be correlated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusWriter records the status code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// RequestLog emits one structured line per request.
func RequestLog(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", w.Header().Get(requestIDHeader),
				"remote", clientIP(r),
			)
		})
	}
}

// Recover converts handler panics into 500 problem documents instead of
// killing the connection.
func Recover(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("handler panicked",
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()),
					)
					WriteErrorR(w, r, http.StatusInternalServerError, "internal_error",
						"An unexpected error occurred. Please try again later.")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit enforces a per-client token bucket. Limiter backend errors fail
// open: an unreachable Redis must not take the review surface down with it.
func RateLimit(store limiter.Store, policy limiter.Policy, log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := limiter.Enforce(r.Context(), store, "ip:"+clientIP(r), policy)
			if err != nil {
				if errors.Is(err, limiter.ErrLimited) {
					WriteTooManyRequests(w, 60)
					return
				}
				log.Warn("rate limit check failed, allowing request", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller address: the first X-Forwarded-For hop when a
// proxy set one, otherwise the connection peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}
