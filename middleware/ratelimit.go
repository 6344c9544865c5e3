package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/halinh/authcore"
)

// KeyFunc derives the rate-limit identifier from a request. An empty key
// skips the check.
type KeyFunc func(*http.Request) string

// ByClientIP keys attempts by ClientIP.
func ByClientIP(r *http.Request) string {
	return ClientIP(r)
}

const credentialPeekLimit = 1 << 16

// ByCredential keys attempts by the account a JSON body names: identifier,
// then email, then phone. The body is restored for the next handler. A
// body naming no account yields "" and is left to other limits.
func ByCredential(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	peeked, err := io.ReadAll(io.LimitReader(r.Body, credentialPeekLimit))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(peeked), r.Body), r.Body}
	if err != nil {
		return ""
	}

	var body struct {
		Identifier string `json:"identifier"`
		Email      string `json:"email"`
		Phone      string `json:"phone"`
	}
	if json.Unmarshal(peeked, &body) != nil {
		return ""
	}
	for _, v := range []string{body.Identifier, body.Email, body.Phone} {
		if v = strings.TrimSpace(v); v != "" {
			return "credential:" + strings.ToLower(v)
		}
	}
	return ""
}

// ByAccount keys attempts by the identity Guard attached, falling back to
// ClientIP on unguarded routes.
func ByAccount(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok && id.Account != nil {
		return "account:" + id.Account.ID
	}
	return ClientIP(r)
}

// RateLimit counts each request against the named engine policy and answers
// 429 with Retry-After once the policy denies.
func RateLimit(engine *authcore.Engine, policy string, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ByClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			id := key(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := engine.CheckRateLimit(WithRequestMetadata(r), id, policy)
			if err != nil {
				WriteError(w, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Limit-d.Count, 0)))
			next.ServeHTTP(w, r)
		})
	}
}
