package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hazyhaar/livepage/kit"
)

type claimsKey struct{}

// Middleware returns an http.Handler middleware that extracts a JWT from the
// session cookie (preferred) or the Authorization Bearer header. If valid,
// the parsed SessionClaims are injected into the request context along with
// kit.SessionIDKey. Invalid or missing tokens are silently ignored; use
// RequireSession to enforce.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string
			fromCookie := false
			if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
				tokenStr = c.Value
				fromCookie = true
			}
			if tokenStr == "" {
				if h, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					tokenStr = h
				}
			}
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, tokenStr)
			if err != nil {
				if fromCookie {
					ClearTokenCookie(w)
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = kit.WithSessionID(ctx, claims.SessionID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the SessionClaims from the context, or nil if absent.
func GetClaims(ctx context.Context) *SessionClaims {
	c, _ := ctx.Value(claimsKey{}).(*SessionClaims)
	return c
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, c *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// RequireSession rejects requests without valid SessionClaims with a JSON
// 401. The host UI reloads the index page to obtain a fresh cookie.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "unauthorized",
				"message": "missing or expired session",
				"hint":    "reload the page to start a new session",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
