// Package lockout implements the per-account failed-login state machine.
//
// States are OPEN and LOCKED, derived from LockUntil against the clock. The
// pure [Evaluate] function computes transitions; [Tracker] persists them
// through a compare-and-swap repository so concurrent failures are counted
// exactly once each.
package lockout
