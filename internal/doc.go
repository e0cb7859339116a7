// Package internal holds small shared helpers (secure random codes, log
// masking) used across the engine's internal packages. Nothing here is part
// of the public API.
package internal
