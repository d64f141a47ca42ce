// Package ratelimit provides sliding-window admission control. One
// in-memory instance governs each live channel connection; another instance
// (in-memory or Redis-backed) protects the HTTP API per identity.
package ratelimit

import "time"

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects one event for key against limit events per
// window. Implementations must be safe for concurrent use and must never
// block on I/O-free paths.
type Limiter interface {
	Allow(key string, limit int) Decision
}
