package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/halinh/authcore"
)

// AccessTokenCookie is the cookie Guard falls back to when no bearer token
// is present.
const AccessTokenCookie = "accessToken"

type identityContextKey struct{}

// IdentityFromContext returns the identity Guard attached to ctx.
func IdentityFromContext(ctx context.Context) (*authcore.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authcore.Identity)
	return id, ok && id != nil
}

// Guard runs the full authentication pipeline for every request: token
// signature and kind, claim completeness, account existence, active flag and
// lock state. Failures are answered with the error's status and public
// message; handlers only see authenticated requests.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			ctx := WithRequestMetadata(r)
			id, err := engine.Authenticate(ctx, TokenFromRequest(r))
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx = context.WithValue(ctx, identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest extracts the access token from the Authorization bearer
// header, then the accessToken cookie, then the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// WithRequestMetadata returns r's context carrying the client IP and user
// agent so engine audit events and new sessions record them.
func WithRequestMetadata(r *http.Request) context.Context {
	ctx := authcore.WithClientIP(r.Context(), ClientIP(r))
	return authcore.WithUserAgent(ctx, r.UserAgent())
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
