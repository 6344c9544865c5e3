package middleware

import (
	"context"
	"net/http"

	"github.com/halinh/authcore"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims RequireJWTOnly attached to ctx.
func ClaimsFromContext(ctx context.Context) (*authcore.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*authcore.Claims)
	return c, ok && c != nil
}

// RequireJWTOnly checks the access token signature, kind and expiry without
// touching the session store or the account repository. A lock or
// deactivation takes effect only when the token expires, so use it for
// routes that tolerate that delay.
func RequireJWTOnly(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			token := TokenFromRequest(r)
			if token == "" {
				WriteError(w, authcore.ErrUnauthenticated)
				return
			}
			claims, err := engine.VerifyAccess(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(WithRequestMetadata(r), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
