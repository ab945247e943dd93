// Package ratelimit provides per-key rate limiting for the unauthenticated
// code endpoints.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines a limiter's rate, burst, and idle-entry cleanup interval.
type Config struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
}

// entry holds a rate limiter and tracks its last usage.
type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter manages token buckets keyed by an arbitrary string (an email
// address or remote IP).
type Limiter struct {
	entries map[string]*entry
	mu      sync.Mutex
	config  Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a limiter and starts its background cleanup goroutine.
func New(config Config) *Limiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	l := &Limiter{
		entries: make(map[string]*entry),
		config:  config,
		stopCh:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request for key is within limits.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.config.RPS), l.config.Burst)}
		l.entries[key] = e
	}
	e.lastUsed = time.Now()
	return e.limiter.Allow()
}

// Cleanup removes entries idle for longer than the cleanup interval.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.config.CleanupInterval)
	for key, e := range l.entries {
		if e.lastUsed.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Stop terminates the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Limiter) cleanupLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCh:
			return
		}
	}
}
