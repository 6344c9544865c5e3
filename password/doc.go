// Package password hashes and checks account passwords for the reference
// server.
//
// The engine never sees plaintext passwords: the routing layer verifies the
// password with a [Hasher] and then reports the outcome through
// Engine.RecordFailedLogin or Engine.RecordSuccessfulLogin. [Bcrypt] is the
// default implementation.
package password
