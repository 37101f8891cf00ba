package middleware

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// requestIDKey is the context key the request ID is stored under so
// handlers and the error-response writers can echo it back in the envelope.
type requestIDKey struct{}

// RequestIDHeader is the header name the request ID is read from and
// written to.
const RequestIDHeader = "X-Request-ID"

// RequestIDFromContext returns the request ID assigned by Logging, or the
// empty string if none is present (e.g. in a unit test calling a handler
// directly).
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// sensitiveParams contains query parameter names that may contain secrets
// and should be redacted in logs.
var sensitiveParams = []string{
	"key", "token", "api_key", "apikey", "password", "secret", "auth",
	"access_token", "refresh_token", "bearer", "credential", "private_key",
}

// Fix #16: sanitizeURLForLogging removes sensitive query parameters from URLs before logging.
func sanitizeURLForLogging(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.RawQuery == "" {
		return rawURL
	}

	query := parsed.Query()
	redacted := false
	for _, param := range sensitiveParams {
		for key := range query {
			if strings.EqualFold(key, param) {
				query.Set(key, "[REDACTED]")
				redacted = true
			}
		}
	}

	if !redacted {
		return rawURL
	}

	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// Fix #15: maskIP masks an IP address for privacy in logs.
// IPv4: returns x.x.x.0/24 (masks last octet)
// IPv6: returns x:x:x::/48 (masks last 80 bits)
func maskIP(addr string) string {
	// Split host:port if present
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// No port, use addr directly
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "[redacted]"
	}

	// IPv4
	if ip4 := ip.To4(); ip4 != nil {
		masked := ip4.Mask(net.CIDRMask(24, 32))
		return masked.String() + "/24"
	}

	// IPv6
	masked := ip.Mask(net.CIDRMask(48, 128))
	return masked.String() + "/48"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for streaming responses.
// This is required for SSE and other streaming use cases.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging returns middleware that assigns/propagates X-Request-ID and logs
// method/path/status/duration at a level depending on the response status.
// It excludes no paths; LoggingExcluding is the variant that logs chosen
// paths at debug level instead of info.
func Logging(next http.Handler) http.Handler {
	return LoggingExcluding(nil)(next)
}

// LoggingExcluding returns a middleware constructor like Logging, but routes
// for which excluded(path) is true are logged at debug level.
func LoggingExcluding(excluded func(path string) bool) func(http.Handler) http.Handler {
	if excluded == nil {
		excluded = func(string) bool { return false }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			level := zerolog.InfoLevel
			switch {
			case wrapped.statusCode >= 500:
				level = zerolog.ErrorLevel
			case wrapped.statusCode >= 400:
				level = zerolog.WarnLevel
			case excluded(r.URL.Path):
				level = zerolog.DebugLevel
			}

			log.WithLevel(level).
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", sanitizeURLForLogging(r.URL.String())).
				Str("remote_addr", maskIP(r.RemoteAddr)).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("request completed")
		})
	}
}
