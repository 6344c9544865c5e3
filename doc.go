// Package authcore issues, verifies and revokes the bearer credentials of a
// multi-device service, and protects credential issuance from brute force.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], [AuthError] and
// value types ([TokenPair], [Identity], [SessionSummary]). Token signing lives in jwt/,
// session records in session/, and lockout, rate limiting, audit dispatch and version
// minting under internal/.
//
// # Token lifecycle
//
// [Engine.IssueTokens] mints a fresh token version per login and stores one session
// record per refresh token under <namespace>:<userId>:<version>. Access tokens are
// verified statelessly. Refresh tokens are only valid while their record exists and
// matches, so deleting the record is revocation. Access and refresh tokens are signed
// with different keys.
//
// # Failure model
//
// Every authentication failure is an [*AuthError] with a [Reason]. Only
// STORE_UNAVAILABLE is transient. Store calls are bounded by Config.Session.StoreTimeout
// and are never retried by the engine.
package authcore
