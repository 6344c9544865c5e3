// Package rate limits authentication attempts per identifier (email, phone
// or client IP) with reset-on-expiry windows.
//
// # Backends
//
//   - [MemoryLimiter]: mutex-guarded map for single-instance deployments.
//   - [RedisLimiter]: one Lua script per check, shared across instances.
//     Keys: authcore:rl:<policy>:<identifier>.
//
// Both backends implement [Limiter] with identical semantics so the
// deployment topology picks the backend, not the call site.
//
// # What this package must NOT do
//
//   - Decide what a denial means for the caller (the engine maps it to an
//     AuthError).
//   - Be imported outside the authcore module.
package rate
