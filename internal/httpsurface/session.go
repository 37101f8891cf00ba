package httpsurface

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/asepharyana/gatewayd/internal/security"
)

const sessionCookieName = "gatewayd_session"

// sessionCtxKey is the context key the loaded/minted Session is stored
// under.
type sessionCtxKey struct{}

// Session is the per-request principal-adjacent record loaded by cookie,
// refreshed on each mutated response with a sliding expiration.
type Session struct {
	ID       string
	mutated  bool
	Values   map[string]string
}

// Set records a value on the session and marks it mutated so the
// middleware persists and refreshes it on response.
func (s *Session) Set(key, value string) {
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[key] = value
	s.mutated = true
}

// SessionFromContext returns the Session attached by the Session
// middleware, or nil if none is present.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return s
}

// SessionMiddlewareConfig configures session TTL and cookie attributes.
type SessionMiddlewareConfig struct {
	RDB    *redis.Client
	TTL    time.Duration
	Secure bool
}

// SessionMiddleware loads the session by cookie or mints a new one,
// sets/refreshes the cookie (HttpOnly; SameSite) on the response before the
// handler writes it, attaches the session to the request context, and after
// the handler saves it (with a sliding-expiration TTL refresh) if it was
// mutated.
func SessionMiddleware(cfg SessionMiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := loadOrMintSession(r, cfg)

			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   cfg.Secure,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(cfg.TTL.Seconds()),
			})

			ctx := context.WithValue(r.Context(), sessionCtxKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))

			if sess.mutated {
				saveSession(r.Context(), cfg, sess)
			}
		})
	}
}

func loadOrMintSession(r *http.Request, cfg SessionMiddlewareConfig) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && security.ValidateSessionID(cookie.Value) == "" {
		if sess, ok := loadSession(r.Context(), cfg, cookie.Value); ok {
			return sess
		}
	}

	id, err := security.GenerateSessionID()
	if err != nil {
		log.Warn().Err(err).Msg("failed to generate session id, using unauthenticated session")
		id = ""
	}
	return &Session{ID: id, Values: make(map[string]string)}
}

func loadSession(ctx context.Context, cfg SessionMiddlewareConfig, id string) (*Session, bool) {
	values, err := cfg.RDB.HGetAll(ctx, "session:"+id).Result()
	if err != nil || len(values) == 0 {
		return nil, false
	}
	return &Session{ID: id, Values: values}, true
}

func saveSession(ctx context.Context, cfg SessionMiddlewareConfig, sess *Session) {
	if sess.ID == "" {
		return
	}
	key := "session:" + sess.ID
	pipe := cfg.RDB.TxPipeline()
	if len(sess.Values) > 0 {
		pipe.HSet(ctx, key, toAnySlice(sess.Values))
	}
	pipe.Expire(ctx, key, cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to persist session")
	}
}

func toAnySlice(values map[string]string) []any {
	out := make([]any, 0, len(values)*2)
	for k, v := range values {
		out = append(out, k, v)
	}
	return out
}
