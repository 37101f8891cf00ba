// Package httpsurface wires the router, the Maintenance/Session/CSRF/Auth
// middleware stack, and the handler layer that replaces the teacher's
// single-endpoint FlareSolverr handler with the scraping/chat surface this
// module exposes.
package httpsurface

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/asepharyana/gatewayd/internal/apierr"
	"github.com/asepharyana/gatewayd/internal/browser"
	"github.com/asepharyana/gatewayd/internal/chat"
	"github.com/asepharyana/gatewayd/internal/config"
	"github.com/asepharyana/gatewayd/internal/envelope"
	"github.com/asepharyana/gatewayd/internal/middleware"
	"github.com/asepharyana/gatewayd/internal/scrape"
	"github.com/asepharyana/gatewayd/internal/security"
	"github.com/asepharyana/gatewayd/internal/telemetry"
)

// State is every shared component a handler may need: the connection
// pools, browser pool, cache, room manager and chat hub, mirroring
// AppState's ownership rule that every component here outlives any single
// request.
type State struct {
	Config  *config.Config
	Pool    *browser.Pool
	Gateway *scrape.Gateway
	Hub     *chat.Hub
}

// NewRouter builds the full middleware chain (outermost first: Recovery →
// Logging → CORS/SecurityHeaders → API key → rate limit → Maintenance →
// Session → CSRF → Auth) wrapping the route handlers, using the teacher's
// Chain() composer. rateLimiter is nil when rate limiting is disabled.
func NewRouter(state *State, maintenance MaintenanceConfig, session SessionMiddlewareConfig, rateLimiter *middleware.RateLimiterMiddleware) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, state)

	excludedFromInfoLogging := func(path string) bool {
		return path == "/health" || path == "/metrics"
	}

	chainedMiddleware := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.LoggingExcluding(excludedFromInfoLogging),
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: state.Config.CORSAllowedOrigins}),
		middleware.SecurityHeaders,
	}
	if state.Config.APIKeyEnabled {
		chainedMiddleware = append(chainedMiddleware, middleware.APIKey(state.Config))
	}
	if rateLimiter != nil {
		chainedMiddleware = append(chainedMiddleware, rateLimiter.Handler())
	}
	chainedMiddleware = append(chainedMiddleware,
		Maintenance(maintenance),
		SessionMiddleware(session),
		CSRF,
		Auth(state.Config.JWTSecret, false),
	)

	return middleware.Chain(chainedMiddleware...)(mux)
}

func registerRoutes(mux *http.ServeMux, state *State) {
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	scrapeHandler := handleScrape(state)
	if state.Config.MaxTimeout > 0 {
		scrapeHandler = middleware.Timeout(state.Config.MaxTimeout)(scrapeHandler)
	}
	mux.Handle("/scrape", scrapeHandler)
	// /ws/chat is a long-lived WebSocket connection, not a bounded request/
	// response cycle, so it is deliberately excluded from Timeout.
	mux.Handle("/ws/chat", handleChatWS(state))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	envelope.WriteData(w, http.StatusOK, map[string]string{"status": "ok"}, nil, middleware.RequestIDFromContext(r.Context()), time.Now())
}

func handleScrape(state *State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.RequestIDFromContext(r.Context())

		url := r.URL.Query().Get("url")
		if url == "" {
			envelope.WriteAPIError(w, apierr.Validation("URL_REQUIRED", "url query parameter is required",
				apierr.Field{Field: "url", Message: "required"}), requestID, start)
			return
		}

		headers, err := parseCustomHeaders(r.URL.Query().Get("headers"))
		if err != nil {
			envelope.WriteAPIError(w, apierr.Validation("INVALID_HEADERS", err.Error(),
				apierr.Field{Field: "headers", Message: err.Error()}), requestID, start)
			return
		}

		spec := scrape.EndpointSpec{
			Name:     "adhoc",
			URL:      url,
			CacheKey: "fetch:proxy:" + url,
			TTL:      2 * time.Minute,
			Guarded:  r.URL.Query().Get("guarded") == "true",
			Headers:  headers,
			Parse: func(html []byte) ([]scrape.Item, scrape.Pagination) {
				return nil, scrape.Pagination{HasNextPage: false}
			},
		}

		result, err := state.Gateway.Scrape(r.Context(), spec)
		if err != nil {
			writeScrapeError(w, err, requestID, start)
			return
		}
		envelope.WriteData(w, http.StatusOK, result, nil, requestID, start)
	})
}

// parseCustomHeaders decodes the optional JSON-object "headers" query
// parameter and validates it with security.ValidateHeaders, rejecting the
// same connection-control, auth-bypass, and origin-spoofing header names a
// client could otherwise use to smuggle a Host/Cookie/X-Forwarded-For
// override into the outbound scrape request. An empty raw string is not an
// error; it simply means no custom headers were requested.
func parseCustomHeaders(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil, err
	}
	if err := security.ValidateHeaders(headers); err != nil {
		return nil, err
	}
	return headers, nil
}

func writeScrapeError(w http.ResponseWriter, err error, requestID string, start time.Time) {
	if apiErr, ok := apierr.As(err); ok {
		envelope.WriteAPIError(w, apiErr, requestID, start)
		return
	}
	envelope.WriteError(w, http.StatusBadGateway, "SCRAPE_FAILED", err.Error(), requestID, start)
}

func handleChatWS(state *State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			room = "lobby"
		}
		if err := state.Hub.ServeWS(w, r, room); err != nil {
			envelope.WriteError(w, http.StatusBadRequest, "WEBSOCKET_UPGRADE_FAILED", err.Error(),
				middleware.RequestIDFromContext(r.Context()), time.Now())
		}
	})
}
