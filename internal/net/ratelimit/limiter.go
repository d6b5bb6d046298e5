// Package ratelimit provides per-host request rate limiting using the token
// bucket algorithm.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimit configures one host's token bucket.
type HostLimit struct {
	RPS   float64
	Burst int
}

// Limiter maintains one token bucket per host. Hosts without an explicit
// override use the default limit.
type Limiter struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	overrides map[string]HostLimit
	def       HostLimit
}

// New creates a limiter with a default limit and optional per-host overrides.
func New(def HostLimit, overrides map[string]HostLimit) *Limiter {
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		overrides: overrides,
		def:       def,
	}
}

func (l *Limiter) limitFor(host string) HostLimit {
	if hl, ok := l.overrides[host]; ok {
		return hl
	}
	return l.def
}

// getLimiter returns or creates the rate limiter for host.
func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}

	hl := l.limitFor(host)
	limiter = rate.NewLimiter(rate.Limit(hl.RPS), hl.Burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow returns true if a request for host is allowed right now.
func (l *Limiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Wait blocks until a request for host is allowed or the context ends.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// Tokens reports the tokens currently available for host.
func (l *Limiter) Tokens(host string) float64 {
	return l.getLimiter(host).Tokens()
}

// Reset clears all host buckets.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters = make(map[string]*rate.Limiter)
}
