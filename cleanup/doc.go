// Package cleanup runs the retention sweep: a periodic, idempotent pass that
// removes expired verification tokens, aged login attempts, expired durable
// OTP sessions and stale login history entries.
//
// Each category is deleted in bounded batches so a sweep never holds a write
// lock long enough to stall the authentication path.
package cleanup
