package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow retains per-key admission timestamps and counts those
// within the trailing window, trading memory proportional to the limit
// for accuracy at window boundaries.
type SlidingWindow struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	admissions map[string][]time.Time
}

// NewSlidingWindow creates a sliding-window limiter.
func NewSlidingWindow(cfg Config) *SlidingWindow {
	return &SlidingWindow{
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		admissions: make(map[string][]time.Time),
	}
}

func (l *SlidingWindow) Config() Config { return l.cfg }

// Check discards admissions older than the window, admits while the
// retained count is below the maximum, and records the admission time.
func (l *SlidingWindow) Check(key string) Decision {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.admissions[key][:0]
	for _, ts := range l.admissions[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	allowed := len(kept) < l.cfg.Max
	if allowed {
		kept = append(kept, now)
	}
	if len(kept) == 0 {
		delete(l.admissions, key)
	} else {
		l.admissions[key] = kept
	}

	remaining := l.cfg.Max - len(kept)
	if remaining < 0 {
		remaining = 0
	}

	// The window clears for one more admission once the oldest retained
	// timestamp ages out.
	reset := now.Add(l.cfg.Window)
	if len(kept) > 0 {
		reset = kept[0].Add(l.cfg.Window)
	}

	d := Decision{
		Allowed:   allowed,
		Limit:     l.cfg.Max,
		Remaining: remaining,
		ResetTime: reset,
	}
	if !allowed {
		d.RetryAfter = reset.Sub(now)
	}
	return d
}

// Release drops the newest retained admission for key.
func (l *SlidingWindow) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.admissions[key]
	if len(ts) == 0 {
		return
	}
	ts = ts[:len(ts)-1]
	if len(ts) == 0 {
		delete(l.admissions, key)
	} else {
		l.admissions[key] = ts
	}
}

// Sweep removes keys with no admission newer than now minus the window.
func (l *SlidingWindow) Sweep(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, ts := range l.admissions {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.admissions, key)
		}
	}
}

var _ Limiter = (*SlidingWindow)(nil)
