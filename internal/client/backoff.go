package client

import "time"

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
)

// Backoff computes the delay before a reconnection attempt: the base
// delay doubled per failed attempt, capped at Cap. With the defaults
// that is 1s, 2s, 4s, 8s, 16s, then 30s for every further attempt.
// There is no attempt limit; the client retries until closed.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the delay for the given attempt number (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	cap := b.Cap
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	if attempt >= 63 {
		return cap
	}
	d := base << uint(attempt)
	// The shift overflows for large attempts; treat that as hitting the cap.
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
