// Package middleware adapts authcore.Engine to net/http.
//
// # Guards
//
//   - [Guard] runs Engine.Authenticate on every request: token, claims,
//     account existence, active flag and lock state.
//   - [RequireJWTOnly] verifies the access token only. No Redis or account
//     lookup.
//   - [RateLimit] counts requests against a named engine policy.
//
// Tokens are read from the Authorization bearer header, the accessToken
// cookie, or the token query parameter, in that order. Failures are written
// by [WriteError] as JSON using the error's HTTP status and public message.
//
// This package translates HTTP semantics into Engine calls and makes no
// authentication decision of its own.
package middleware
