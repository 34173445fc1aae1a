// Package ratelimit provides in-process per-key request limiters with
// fixed-window and sliding-window counting.
//
// The limiter table is the only mutable state shared across concurrent
// requests. A per-limiter mutex makes check-and-increment atomic within
// this process, which is strictly tighter than the benign read/increment
// race the original design tolerated. Multi-instance deployments would
// need an external atomic counter store behind the same Limiter
// interface; that is out of scope here.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per key.
type Limiter interface {
	// Check records an admission attempt for key and reports the outcome.
	// The counter is incremented only when the request is admitted.
	Check(key string) Decision

	// Release undoes one prior admission for key, used by the
	// skip-successful / skip-failed options. The correction is post hoc
	// and approximate by design: concurrent traffic on the same key may
	// shift which window the decrement lands in.
	Release(key string)

	// Sweep drops records whose window fully elapsed before now.
	Sweep(now time.Time)

	// Config returns the limiter's construction parameters.
	Config() Config
}

// KeyFunc derives the limit key for a request.
type KeyFunc func(*http.Request) string

// Config holds limiter construction parameters.
type Config struct {
	// Window is the counting span.
	Window time.Duration
	// Max is the number of admissions permitted per window.
	Max int
	// KeyFunc derives the per-request key; DefaultKeyFunc if nil.
	KeyFunc KeyFunc
	// SkipSuccessful releases admissions for responses below 400.
	SkipSuccessful bool
	// SkipFailed releases admissions for responses of 400 and above.
	SkipFailed bool
	// Message overrides the rejection message shown to clients.
	Message string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Max <= 0 {
		c.Max = 100
	}
	if c.KeyFunc == nil {
		c.KeyFunc = DefaultKeyFunc
	}
	if c.Message == "" {
		c.Message = "too many requests, please try again later"
	}
	return c
}

// DefaultKeyFunc keys by the first forwarded-for hop, falling back to the
// connection address.
func DefaultKeyFunc(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// SweepInterval is the default interval for the background sweep.
const SweepInterval = 5 * time.Minute

// SweepLoop periodically sweeps the given limiters until ctx is done.
// It runs independently of request handling and bounds table growth.
func SweepLoop(ctx context.Context, interval time.Duration, limiters ...Limiter) {
	if interval <= 0 {
		interval = SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, l := range limiters {
				l.Sweep(now)
			}
		}
	}
}
