// Package jwt issues and validates the HMAC-signed session tokens handed out
// after a completed two-factor login.
//
// Tokens carry the member email as the subject and the numeric account id in
// a private claim. Only HS256 is supported; the shared secret is required to
// be at least 32 bytes at configuration time.
package jwt
