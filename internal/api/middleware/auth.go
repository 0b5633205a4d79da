package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/auth"
)

// unauthorizedDetail is the only detail clients ever see for a rejected credential.
const unauthorizedDetail = "invalid or missing credentials"

type identityKey struct{}

// Authenticator verifies a raw bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*auth.Identity, error)
}

// Auth creates authentication middleware that validates bearer tokens and
// attaches the caller's identity to the request context.
func Auth(authenticator Authenticator, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := authenticator.Authenticate(r.Context(), bearerToken(r))
			if err != nil && !auth.IsCredentialError(err) {
				log.Error().
					Err(err).
					Str("request_id", GetRequestID(r.Context())).
					Str("path", r.URL.Path).
					Msg("authentication unavailable")
				problem := models.NewInternalError(GetRequestID(r.Context()), "")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
			if err != nil {
				log.Warn().
					Str("request_id", GetRequestID(r.Context())).
					Str("path", r.URL.Path).
					Str("auth_error", err.Error()).
					Msg("request rejected")
				writeUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token of a "Bearer" Authorization header, or "" when
// the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	const bearerPrefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// writeUnauthorized writes a 401 Unauthorized response.
// This is implemented directly here to avoid import cycle with response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), unauthorizedDetail)
	problem.Instance = r.URL.Path
	w.Header().Set("WWW-Authenticate", `Bearer realm="pushgate"`)
	problem.Write(w)
}

// GetIdentity retrieves the authenticated identity from the context.
// Returns nil if the request was not authenticated.
func GetIdentity(ctx context.Context) *auth.Identity {
	if id, ok := ctx.Value(identityKey{}).(*auth.Identity); ok {
		return id
	}
	return nil
}

// GetApplicationID retrieves the application the caller is scoped to.
func GetApplicationID(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil {
		return id.ApplicationID
	}
	return ""
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}
