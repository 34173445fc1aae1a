package ratelimit

import (
	"sync"
	"time"
)

// record tracks admissions for one key within the current window.
type record struct {
	count     int
	resetTime time.Time
}

// FixedWindow counts admissions per key over fixed spans. Counts reset
// wholesale when a window elapses, which under-counts bursts straddling
// a window boundary; callers needing accuracy at the edges should use
// SlidingWindow.
type FixedWindow struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

// NewFixedWindow creates a fixed-window limiter.
func NewFixedWindow(cfg Config) *FixedWindow {
	return &FixedWindow{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		records: make(map[string]*record),
	}
}

func (l *FixedWindow) Config() Config { return l.cfg }

// Check starts a fresh window when none exists or the stored reset time
// has passed, then admits while the count is below the maximum. The count
// is incremented only on admission.
func (l *FixedWindow) Check(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || !now.Before(rec.resetTime) {
		rec = &record{resetTime: now.Add(l.cfg.Window)}
		l.records[key] = rec
	}

	allowed := rec.count < l.cfg.Max
	if allowed {
		rec.count++
	}

	remaining := l.cfg.Max - rec.count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   allowed,
		Limit:     l.cfg.Max,
		Remaining: remaining,
		ResetTime: rec.resetTime,
	}
	if !allowed {
		d.RetryAfter = rec.resetTime.Sub(now)
	}
	return d
}

// Release decrements the current window's count for key, clamped at zero.
func (l *FixedWindow) Release(key string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || !now.Before(rec.resetTime) {
		return
	}
	if rec.count > 0 {
		rec.count--
	}
}

// Sweep removes keys whose window elapsed before now.
func (l *FixedWindow) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, rec := range l.records {
		if !now.Before(rec.resetTime) {
			delete(l.records, key)
		}
	}
}

var _ Limiter = (*FixedWindow)(nil)
