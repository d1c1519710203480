// Package ratelimit implements the Rate Limiter (spec §4.B): a per
// provider:model token bucket with exponential backoff, and detection of
// rate-limit signals in provider output.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultBaseBackoff and DefaultMaxBackoff are the spec's recommended
	// values (spec §4.B).
	DefaultBaseBackoff = 30 * time.Second
	DefaultMaxBackoff   = 30 * time.Minute
)

type entry struct {
	capacity     int
	held         int
	streak       int
	backoffUntil time.Time
}

// Limiter tracks concurrency and backoff state per "provider:model" key. All
// state is mutated only by the orchestrator's control thread in practice,
// but the mutex makes it safe if that assumption is ever relaxed (spec
// §4.B: "if the orchestrator dispatches from multiple threads, the limiter
// must be internally synchronised").
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

// New builds a Limiter with one entry per configured (provider, model, capacity)
// triple. base and max default to the spec's recommended values when zero.
func New(capacities map[string]int, base, max time.Duration) *Limiter {
	if base == 0 {
		base = DefaultBaseBackoff
	}
	if max == 0 {
		max = DefaultMaxBackoff
	}
	l := &Limiter{
		entries:     map[string]*entry{},
		baseBackoff: base,
		maxBackoff:  max,
		now:         time.Now,
	}
	for key, cap := range capacities {
		l.entries[key] = &entry{capacity: cap}
	}
	return l
}

// TryAcquire returns true iff key is configured, capacity permits another
// hold, and the key is not in backoff. Non-blocking.
func (l *Limiter) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false
	}
	if l.now().Before(e.backoffUntil) {
		return false
	}
	if e.held >= e.capacity {
		return false
	}
	e.held++
	return true
}

// Available reports whether key is configured and could currently be
// acquired, without actually acquiring it. The router uses this to pick a
// candidate slot; the orchestrator separately calls TryAcquire to commit to
// it (spec §4.C, §4.I).
func (l *Limiter) Available(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false
	}
	return e.held < e.capacity && !l.now().Before(e.backoffUntil)
}

// Release decrements the held count for key, floored at zero.
func (l *Limiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && e.held > 0 {
		e.held--
	}
}

// ReportRateLimit bumps key's consecutive-rate-limit streak and sets its
// backoff-until to now + base*2^(r-1), clamped to the configured ceiling.
func (l *Limiter) ReportRateLimit(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.streak++
	wait := l.baseBackoff * time.Duration(1<<uint(e.streak-1))
	if wait > l.maxBackoff {
		wait = l.maxBackoff
	}
	e.backoffUntil = l.now().Add(wait)
}

// ReportSuccess resets key's streak and clears its backoff.
func (l *Limiter) ReportSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		e.streak = 0
		e.backoffUntil = time.Time{}
	}
}

// AvailableSlots returns every configured key currently able to accept
// another hold.
func (l *Limiter) AvailableSlots() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var out []string
	for key, e := range l.entries {
		if e.held < e.capacity && !now.Before(e.backoffUntil) {
			out = append(out, key)
		}
	}
	return out
}

// InBackoff returns every configured key currently serving a backoff
// window, for the summary/metrics surfaces.
func (l *Limiter) InBackoff() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var out []string
	for key, e := range l.entries {
		if now.Before(e.backoffUntil) {
			out = append(out, key)
		}
	}
	return out
}

// BackoffUntil returns the backoff deadline for key, or the zero time if
// key has none configured or isn't in backoff.
func (l *Limiter) BackoffUntil(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		return e.backoffUntil
	}
	return time.Time{}
}

// Configured reports whether key has a configured capacity.
func (l *Limiter) Configured(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[key]
	return ok
}

// Held returns the number of outstanding holds on key, for metrics/summary
// surfaces.
func (l *Limiter) Held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.held
	}
	return 0
}

// Keys returns every configured provider:model key, for surfaces that walk
// the full slot set.
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for key := range l.entries {
		out = append(out, key)
	}
	return out
}
