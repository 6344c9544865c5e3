// Package accountstore provides authcore.AccountRepository implementations.
//
// Memory keeps accounts in a process-local map and suits tests and single
// instance deployments. SQL persists accounts through database/sql; the
// lockout compare-and-swap is a conditional UPDATE so concurrent failed
// logins on different instances are never under-counted.
package accountstore
