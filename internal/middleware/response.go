package middleware

import (
	"net/http"
	"time"

	"github.com/asepharyana/gatewayd/internal/envelope"
)

// statusCodeName maps an HTTP status to the SCREAMING_SNAKE_CASE code used in
// the envelope's error.code field for middleware-originated failures (panic
// recovery, rate limiting, timeouts, auth) that never reach a handler.
func statusCodeName(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusGatewayTimeout:
		return "GATEWAY_TIMEOUT"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// writeErrorResponse writes a consistent error envelope. startTime should be
// the time when the request started processing.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string, startTime time.Time) {
	requestID := w.Header().Get("X-Request-ID")
	envelope.WriteError(w, statusCode, statusCodeName(statusCode), message, requestID, startTime)
}
