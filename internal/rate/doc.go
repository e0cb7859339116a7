// Package rate implements the fixed-window request limiter keyed by client
// source address, backed by Redis counters.
//
// # Design
//
// One counter per source per window: INCR, then EXPIRE on the first hit so
// the key dies with the window. The limiter fails open — a Redis error never
// rejects a request — because losing rate limiting is cheaper than losing
// authentication.
//
// # What this package must NOT do
//
//   - Inspect request contents; the source address is its only input.
//   - Import the root package or any sibling package.
package rate
