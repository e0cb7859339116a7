// Package limiters implements the account lock guard: trailing-window
// failed-attempt evaluation over the durable attempt ledger, with the lock
// itself held as a TTL'd Redis flag.
package limiters
