// Package mailer delivers the transactional emails of the authentication
// flows: the verification link after registration, the numeric login code,
// and the lockout notice.
//
// Delivery is fire-and-forget from the caller's point of view. Messages are
// queued on a buffered channel and sent by a background worker that retries
// transient failures with exponential backoff. The SMTP transport keeps a
// connection pool and falls back to a direct single-shot send when the pool
// is unavailable.
package mailer
