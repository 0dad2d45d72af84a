package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/okuzmin/vectorize-api/internal/api/shared"
	"github.com/okuzmin/vectorize-api/internal/auth"
)

// AuthMiddleware resolves the caller identity and tier for every request.
// Credentials are optional: requests without any resolve to the free tier
// keyed by client IP. Requests that present credentials must present valid
// ones.
type AuthMiddleware struct {
	tokens      auth.TokenService
	keys        *auth.Keystore
	defaultTier string
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(tokens auth.TokenService, keys *auth.Keystore, defaultTier string) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:      tokens,
		keys:        keys,
		defaultTier: defaultTier,
	}
}

// Resolve authenticates the request and adds identity and tier to the
// request context for the admission layer and handlers.
func (m *AuthMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Bearer token takes precedence over an API key
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			// Token auth may be disabled entirely (no signing secret
			// configured); presented credentials are still rejected rather
			// than silently downgraded to anonymous.
			if m.tokens == nil {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "unauthorized", "Bearer tokens are not enabled")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid authorization format")
				return
			}

			claims, err := m.tokens.ValidateToken(r.Context(), parts[1])
			if err != nil {
				switch err {
				case auth.ErrExpiredToken:
					shared.RespondWithError(w, r, http.StatusUnauthorized, "unauthorized", "Token expired")
				default:
					shared.RespondWithError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid token")
				}
				return
			}

			tier := claims.Tier
			if tier == "" {
				tier = m.defaultTier
			}
			ctx := shared.SetCaller(r.Context(), claims.Subject, tier)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if rawKey := r.Header.Get("X-API-Key"); rawKey != "" {
			key, err := m.keys.Verify(rawKey)
			if err != nil {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}

			ctx := shared.SetCaller(r.Context(), key.ID, key.Tier)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Anonymous caller: identity is the client IP
		ctx := shared.SetCaller(r.Context(), clientIP(r), m.defaultTier)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
