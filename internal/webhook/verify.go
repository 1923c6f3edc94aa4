package webhook

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// VerifySignature validates the HS256 bearer token the provider attaches
// to signed webhooks. Install only when a signature secret is configured;
// unsigned deployments skip the middleware entirely.
func VerifySignature(secret string, logger zerolog.Logger) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.Warn().Str("path", r.URL.Path).Msg("webhook missing signature token")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")
			_, err := jwt.Parse(token, keyFunc, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				logger.Warn().Err(err).Str("path", r.URL.Path).Msg("webhook signature invalid")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
