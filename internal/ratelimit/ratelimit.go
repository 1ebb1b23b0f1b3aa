// Package ratelimit provides a sliding-window request limiter keyed
// by client IP, used to throttle session creation.
package ratelimit

import (
	"sync"
	"time"
)

// IPLimiter tracks request timestamps per IP within a sliding window.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
}

// NewIPLimiter creates an IPLimiter allowing max requests per window.
func NewIPLimiter(max int, window time.Duration) *IPLimiter {
	return &IPLimiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
}

// Allow reports whether the IP is under its limit, recording the
// request when it is.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	timestamps := l.entries[ip]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.max {
		l.entries[ip] = valid
		return false
	}

	l.entries[ip] = append(valid, now)
	return true
}

// Len returns the number of IPs currently tracked.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune drops IPs whose every recorded request has left the window.
// Call it periodically to keep long-running servers from accumulating
// entries for one-shot clients.
func (l *IPLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	for ip, timestamps := range l.entries {
		stale := true
		for _, t := range timestamps {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.entries, ip)
		}
	}
}
