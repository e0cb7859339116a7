// Package memberauth provides a two-phase member authentication engine:
// password login followed by an emailed one-time code, with email
// verification at registration, failed-attempt account lockout, per-source
// rate limiting, and signed stateless session tokens.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. Instances hold no cross-request state of their own; all
// shared state lives in Redis and in the durable repositories, so any number
// of instances may run against the same stores.
//
// # Architecture boundaries
//
// memberauth is the public surface. It exposes [Engine], [Builder], [Config],
// the repository and dispatcher ports, and value types. All internal
// coordination — OTP session storage, lockout evaluation, rate limiting —
// lives under internal/ and is never exported. Reference implementations of
// the durable ports live in the sqlstore subpackage, and of the email
// dispatcher port in the mailer subpackage.
//
// # Degraded operation
//
// OTP challenges live in Redis with native expiry. When Redis is confirmed
// unreachable the engine transparently routes challenges through the durable
// fallback repository with weaker (transaction-serialized, not linearizable)
// concurrency guarantees. The rate limiter and lock guard fail open on store
// errors so that a cache outage never turns into an authentication outage.
package memberauth
