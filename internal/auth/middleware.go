package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/liftlog/liftlog-api/internal/api"
)

type contextKey string

const UserClaimsKey contextKey = "user_claims"

// Middleware rejects requests without a valid bearer access token and stores
// the token claims in the request context.
func Middleware(m *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := m.ValidateAccessToken(parts[1])
			if err != nil {
				slog.Debug("rejecting access token", "error", err)
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserClaims(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(UserClaimsKey).(*AccessClaims)
	return claims
}

// WithUserClaims returns a context carrying claims, as Middleware does.
func WithUserClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, UserClaimsKey, claims)
}
