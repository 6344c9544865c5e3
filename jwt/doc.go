// Package jwt signs and parses the access and refresh tokens issued by
// authcore. Each token kind has its own Manager and key material, so a leaked
// access-token secret cannot mint refresh tokens.
package jwt
