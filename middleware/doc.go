// Package middleware exposes HTTP adapters for the session token issued by
// the engine.
//
// [Guard] reads the Authorization header, calls Engine.ValidateSessionToken
// and injects the validated claims into the request context. It translates
// HTTP semantics into engine calls and nothing more: it never parses tokens
// itself and makes no authorization decisions beyond pass or reject.
package middleware
