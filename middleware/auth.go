/*
Logic:       Bearer-token authentication middleware delegating to the
             external.AuthProvider contract instead of validating keys
             itself — the real auth service (JWT issuance, password
             hashing, OAuth) lives outside the core per spec §1.
*/

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pogbonna-IAL/content-gateway/apperr"
	"github.com/pogbonna-IAL/content-gateway/external"
)

type contextKey string

// PrincipalContextKey stores the authenticated external.Principal.
const PrincipalContextKey contextKey = "principal"

// AuthMiddleware resolves a bearer token to a Principal via the
// injected AuthProvider and rejects the request if it doesn't resolve.
type AuthMiddleware struct {
	provider external.AuthProvider
	log      zerolog.Logger
}

func NewAuthMiddleware(provider external.AuthProvider, log zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{provider: provider, log: log}
}

func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAuthError(w, "missing or malformed Authorization header")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		principal, err := am.provider.Authenticate(r.Context(), token)
		if err != nil {
			am.log.Warn().Err(err).Msg("authentication failed")
			writeAuthError(w, "invalid credentials")
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, msg string) {
	appErr := apperr.New(apperr.CodeAuth, msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	_, _ = w.Write([]byte(`{"code":"` + string(appErr.Code) + `","message":"` + msg + `"}`))
}

// PrincipalFromContext extracts the authenticated Principal, if any.
func PrincipalFromContext(ctx context.Context) *external.Principal {
	if p, ok := ctx.Value(PrincipalContextKey).(*external.Principal); ok {
		return p
	}
	return nil
}
