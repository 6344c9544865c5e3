// Package session provides the Redis-backed store of refresh-token session
// records and their compact binary encoding.
//
// # Key convention
//
// Records live under <namespace>:<userId>:<version>. User IDs and versions
// may not contain the separator or SCAN glob metacharacters, so a prefix scan
// for one user can never reach another user's records.
//
// # Failure semantics
//
// Every Redis failure is wrapped in [ErrUnavailable]. The store is the
// authority on revocation; callers must fail closed when it cannot answer.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store plaintext refresh tokens in [Record] fields.
package session
