package httpsurface

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/asepharyana/gatewayd/internal/envelope"
)

// principalCtxKey is the context key the resolved Principal is stored
// under; handlers never see a raw bearer token or session ID.
type principalCtxKey struct{}

// Principal identifies who is making the request, resolved from either a
// bearer token or the session record.
type Principal struct {
	UserID string
	Roles  []string
	Scopes []string
}

// PrincipalFromContext returns the Principal attached by Auth, or nil for
// an unauthenticated request.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*Principal)
	return p
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Roles  []string `json:"roles,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Auth resolves a Principal from a bearer token (verified with jwtSecret)
// or, failing that, from the session attached by SessionMiddleware.
// required controls whether a missing/invalid credential is rejected with
// 401 or simply leaves the request unauthenticated.
func Auth(jwtSecret string, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := resolveFromBearer(r, jwtSecret)
			if principal == nil {
				principal = resolveFromSession(r)
			}

			if principal == nil && required {
				envelope.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", "", time.Now())
				return
			}

			ctx := context.WithValue(r.Context(), principalCtxKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveFromBearer(r *http.Request, secret string) *Principal {
	if secret == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil
	}
	tokenStr := strings.TrimPrefix(header, prefix)

	var claims jwtClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil
	}

	return &Principal{UserID: claims.Subject, Roles: claims.Roles, Scopes: claims.Scopes}
}

func resolveFromSession(r *http.Request) *Principal {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		return nil
	}
	userID, ok := sess.Values["user_id"]
	if !ok || userID == "" {
		return nil
	}
	return &Principal{UserID: userID}
}
