package session

import (
	"context"
	"net/http"

	"Pantry/pkg/kit"
)

// CookieName carries the session token for browser clients.
const CookieName = "pantry_session"

type ctxKey struct{}

func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Require rejects requests without a valid session token. The bearer header
// wins over the cookie.
func Require(tm *TokenMaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := kit.BearerToken(r)
			if !ok {
				if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
					raw, ok = c.Value, true
				}
			}
			if !ok {
				kit.WriteError(w, r, http.StatusUnauthorized, "missing session", nil)
				return
			}

			id, err := tm.Parse(raw)
			if err != nil {
				kit.WriteError(w, r, http.StatusUnauthorized, "invalid session", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}
