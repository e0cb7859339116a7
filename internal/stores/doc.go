// Package stores implements the ephemeral state backends of the engine: the
// dual-backed OTP session store (Redis primary, durable fallback) and the
// login-history ranked set.
//
// # Design
//
// OTP challenges are keyed by email — there is at most one live challenge
// per email, and creating a new one supersedes the old. Callers hold an
// opaque reference; a secondary Redis key maps reference to email, and the
// email record carries the authoritative current reference, so references
// to superseded challenges resolve to nothing.
//
// Validation on the Redis path is a WATCH-guarded check-and-mutate: compare
// the code and either delete the challenge (match), bump the attempt counter
// (mismatch), or delete it once the budget is exhausted — two concurrent
// validations can never both pass. The fallback path runs the same logic as
// a read-modify-write inside a repository transaction and is serialized at
// the database rather than linearizable.
package stores
