package httpsurface

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/asepharyana/gatewayd/internal/envelope"
	"github.com/asepharyana/gatewayd/internal/security"
)

const csrfCookieName = "gatewayd_csrf"
const csrfHeaderName = "X-CSRF-Token"

var safeMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodOptions: {},
}

// CSRF implements the double-submit cookie pattern: safe methods mint a
// token cookie if absent; unsafe methods must echo that token back in a
// header, compared to the cookie in constant time the same way APIKey
// compares the X-API-Key header.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(csrfCookieName)
		hasToken := err == nil && security.ValidateSessionID(cookie.Value) == ""

		if _, safe := safeMethods[r.Method]; safe {
			if !hasToken {
				token, genErr := security.GenerateSessionID()
				if genErr == nil {
					http.SetCookie(w, &http.Cookie{
						Name:     csrfCookieName,
						Value:    token,
						Path:     "/",
						HttpOnly: false,
						SameSite: http.SameSiteLaxMode,
					})
				}
			}
			next.ServeHTTP(w, r)
			return
		}

		if !hasToken {
			envelope.WriteError(w, http.StatusForbidden, "CSRF_TOKEN_MISSING", "CSRF token cookie missing", "", time.Now())
			return
		}

		provided := r.Header.Get(csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(cookie.Value)) != 1 {
			envelope.WriteError(w, http.StatusForbidden, "CSRF_TOKEN_MISMATCH", "CSRF token does not match", "", time.Now())
			return
		}

		next.ServeHTTP(w, r)
	})
}
