package httpsurface

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/asepharyana/gatewayd/internal/envelope"
)

// maintenanceCacheTTL bounds how often Maintenance re-reads app:maintenance
// from Redis, the same local-TTL-cache-in-front-of-Redis shape the rate
// limiter uses for its per-IP client map, so a maintenance toggle doesn't
// cost a Redis round trip on every request.
const maintenanceCacheTTL = 2 * time.Second

// MaintenanceConfig configures the allowlist that bypasses a maintenance
// window: specific paths, a bypass secret header, and an IP allowlist.
type MaintenanceConfig struct {
	RDB            *redis.Client
	BypassSecret   string
	AllowedPaths   map[string]struct{}
	AllowedIPs     map[string]struct{}
}

type maintenanceState struct {
	mu       sync.Mutex
	cached   bool
	expires  time.Time
}

// Maintenance returns middleware that returns 503 with Retry-After when
// app:maintenance is set in Redis, unless the request matches an allowed
// path, presents the bypass secret header, or originates from an
// allowlisted IP.
func Maintenance(cfg MaintenanceConfig) func(http.Handler) http.Handler {
	state := &maintenanceState{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.AllowedPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.BypassSecret != "" {
				provided := r.Header.Get("X-Maintenance-Bypass")
				if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.BypassSecret)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				if _, ok := cfg.AllowedIPs[host]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			if state.inMaintenance(r.Context(), cfg.RDB) {
				w.Header().Set("Retry-After", "60")
				envelope.WriteError(w, http.StatusServiceUnavailable, "MAINTENANCE",
					"service is temporarily in maintenance mode", "", time.Now())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *maintenanceState) inMaintenance(ctx context.Context, rdb *redis.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Before(s.expires) {
		return s.cached
	}

	val, _ := rdb.Get(ctx, "app:maintenance").Result()
	s.cached = val == "1" || val == "true"
	s.expires = time.Now().Add(maintenanceCacheTTL)
	return s.cached
}
