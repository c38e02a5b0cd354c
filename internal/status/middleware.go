package status

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// LoggingMiddleware tags every request with an X-Request-ID and logs it.
// The UI polls health and stats, so successful polls are logged at Debug.
// Client and server errors are logged at Warn.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			level := zapcore.InfoLevel
			switch {
			case recorder.status >= 400:
				level = zapcore.WarnLevel
			case r.Method == http.MethodGet && (r.URL.Path == "/v1/health" || r.URL.Path == "/v1/stats"):
				level = zapcore.DebugLevel
			}

			// the callback query carries tokens, so only the path is logged
			logger.Log(level, "HTTP request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Int("bytes", recorder.written),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// RateLimitMiddleware rejects requests above requestsPerMinute with 429.
// A non-positive rate disables limiting.
func RateLimitMiddleware(requestsPerMinute, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("Rate limit exceeded", zap.String("path", r.URL.Path))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a JSON 500 carrying the
// request id, so the UI can quote it
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					requestID := w.Header().Get(requestIDHeader)
					logger.Error("Handler panicked",
						zap.Any("panic", p),
						zap.String("request_id", requestID),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					writeJSON(w, http.StatusInternalServerError, errorResponse{
						Error:     "internal server error",
						RequestID: requestID,
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// SameOriginOnly rejects requests a browser marks as coming from another
// site. Requests without browser provenance headers, such as the desktop
// shell calling the server directly, pass.
func SameOriginOnly(logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if crossSite(r) {
			logger.Warn("Cross-site request rejected",
				zap.String("path", r.URL.Path),
				zap.String("origin", r.Header.Get("Origin")),
				zap.String("sec_fetch_site", r.Header.Get("Sec-Fetch-Site")))
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "cross-site request rejected"})
			return
		}
		next(w, r)
	}
}

// NavigationOnly admits cross-site requests only when they are top-level
// browser navigations. The OAuth redirect is one; a script fetch or an
// embedded image from another page is not.
func NavigationOnly(logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.Header.Get("Sec-Fetch-Mode")
		dest := r.Header.Get("Sec-Fetch-Dest")
		if crossSite(r) && (mode != "navigate" || (dest != "" && dest != "document")) {
			logger.Warn("Non-navigation cross-site request rejected",
				zap.String("path", r.URL.Path),
				zap.String("sec_fetch_mode", mode),
				zap.String("sec_fetch_dest", dest))
			writePage(w, http.StatusForbidden, "Authentication failed! Request not allowed.")
			return
		}
		next(w, r)
	}
}

// crossSite prefers Sec-Fetch-Site and falls back to comparing the Origin
// host with the request host
func crossSite(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "same-origin", "none":
		return false
	case "same-site", "cross-site":
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return true
	}
	return !sameHost(u.Host, r.Host)
}

func sameHost(a, b string) bool {
	if a == b {
		return true
	}
	ah, ap, errA := net.SplitHostPort(a)
	bh, bp, errB := net.SplitHostPort(b)
	if errA != nil || errB != nil {
		return false
	}
	return ap == bp && isLoopback(ah) && isLoopback(bh)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}
