package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/security/auth"
	"github.com/opslink/opslink/internal/security/ratelimit"
)

type IdentityContextKey struct{}

// publicPath reports whether a path is served without authentication.
func publicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/api/auth/login", "/api/auth/bootstrap":
		return true
	}
	return false
}

// JWTMiddleware resolves the bearer token into an identity context and
// stores it on the request. Requests without a valid token proceed with no
// identity; the authorization gate downstream rejects them per operation, so
// authentication failures surface as typed errors rather than transport
// short-circuits.
func JWTMiddleware(tm *auth.TokenManager, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				// Websocket clients cannot set headers; allow a token query param.
				if t := r.URL.Query().Get("token"); t != "" {
					authHeader = "Bearer " + t
				}
			}
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, err := auth.ExtractToken(authHeader)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				log.Debug("token rejected", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityContextKey{}, claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware applies a per-agency request budget. Unauthenticated
// requests fall into a shared bucket keyed by empty string.
func RateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			agencyID := ""
			if id := GetIdentityFromContext(r.Context()); id != nil {
				agencyID = id.AgencyID
			}

			if !limiter.Allow(agencyID) {
				log.Warn("rate limit exceeded", slog.String("agency_id", agencyID))
				http.Error(w, `{"ok":false,"error":{"message":"rate limit exceeded","status":429}}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ValidateJSONContentType ensures body-carrying requests are JSON.
func ValidateJSONContentType(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			contentType := r.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				log.Warn("invalid content type",
					slog.String("path", r.URL.Path),
					slog.String("content_type", contentType),
					slog.String("method", r.Method),
				)
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIdentityFromContext returns the resolved identity, or nil when the
// request carried no valid token.
func GetIdentityFromContext(ctx context.Context) *domain.Identity {
	if id, ok := ctx.Value(IdentityContextKey{}).(*domain.Identity); ok {
		return id
	}
	return nil
}

// OriginFromRequest captures the request origin recorded on audit entries.
func OriginFromRequest(r *http.Request) domain.RequestOrigin {
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx > 0 {
		ip = ip[:idx]
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return domain.RequestOrigin{IP: ip, UserAgent: r.Header.Get("User-Agent")}
}
