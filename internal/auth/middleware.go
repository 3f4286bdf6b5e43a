package auth

import (
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/logger"
)

// Middleware requires a valid session on every request. The token is read
// from "Authorization: Bearer" first, then from the session cookie.
func Middleware(v *Verifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Verify(tokenFrom(r, cookieName))
			if err != nil {
				logger.FromContext(r.Context()).Debug("session rejected", zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = gojson.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			ctx := WithUser(r.Context(), claims.Subject)
			ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("user_id", claims.Subject)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFrom(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}
